package chain

import (
	"fmt"
	"os"
	"strconv"
)

// InstanceIDEnv selects this instance's operator credential and whether it
// participates in account-queue draining. Deployments assign a distinct id to
// each replica.
const InstanceIDEnv = "INSTANCE_ID"

// Account-queue draining uses the shared admin credential, so it is limited
// to the first two instances to bound sequence-number races on that key.
const maxAccountInstanceID = 1

// Wallet names the signing credentials this instance submits under. The key
// material itself lives with the gateway's signer; the keeper only routes by
// name.
type Wallet struct {
	InstanceID  int
	AdminKey    string
	OperatorKey string
}

// NewWallet validates the instance id against the configured operator key
// set and picks this instance's operator credential. An out-of-range id is a
// startup error.
func NewWallet(instanceID int, adminKey string, operatorKeys []string) (*Wallet, error) {
	if adminKey == "" {
		return nil, fmt.Errorf("admin key is required")
	}
	if len(operatorKeys) == 0 {
		return nil, fmt.Errorf("at least one operator key is required")
	}
	if instanceID < 0 || instanceID >= len(operatorKeys) {
		return nil, fmt.Errorf("instance id %d out of range [0, %d]", instanceID, len(operatorKeys)-1)
	}
	return &Wallet{
		InstanceID:  instanceID,
		AdminKey:    adminKey,
		OperatorKey: operatorKeys[instanceID],
	}, nil
}

// DrainsAccountQueue reports whether this instance polls the account queue.
func (w *Wallet) DrainsAccountQueue() bool {
	return w.InstanceID <= maxAccountInstanceID
}

// InstanceIDFromEnv reads INSTANCE_ID, defaulting to 0 when unset.
func InstanceIDFromEnv() (int, error) {
	raw := os.Getenv(InstanceIDEnv)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", InstanceIDEnv, raw, err)
	}
	return id, nil
}
