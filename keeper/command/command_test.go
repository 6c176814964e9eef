package command_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momo-labs/keeper/keeper/command"
)

// The queue wire format is consumed by producers and consumers from other
// revisions, so the field names are load-bearing.
func TestWireFormatIsFrozen(t *testing.T) {
	tests := []struct {
		name string
		cmd  command.Command
		want string
	}{
		{
			name: "create resource account",
			cmd:  command.CreateResourceAccount{UserAccountHash: "abc"},
			want: `{"type":"create_resource_account","userAccountHash":"abc"}`,
		},
		{
			name: "mint token",
			cmd:  command.MintToken{Receipt: "abc", UniID: "u1", Amount: "100"},
			want: `{"type":"mint_token","receipt":"abc","uniId":"u1","amount":"100"}`,
		},
		{
			name: "transfer token",
			cmd:  command.TransferToken{From: "a", To: "b", UniID: "u2", Amount: "0.5"},
			want: `{"type":"transfer_token","from":"a","to":"b","uniId":"u2","amount":"0.5"}`,
		},
		{
			name: "referral bonus",
			cmd:  command.ReferralBonus{Inviter: "inv", UniID: "u3", Amount: "10"},
			want: `{"type":"referral_bonus","inviter":"inv","uniId":"u3","amount":"10"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := command.Marshal(tt.cmd)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(data))

			env, err := command.Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, tt.cmd, env.Cmd)
			require.Zero(t, env.Attempt)
		})
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := command.Unmarshal([]byte(`{"type":"burn_token","amount":"1"}`))
	require.ErrorContains(t, err, "unknown command type")

	_, err = command.Unmarshal([]byte(`not json`))
	require.Error(t, err)
}

func TestEnvelopeCarriesAttempt(t *testing.T) {
	env := command.Envelope{
		Cmd:     command.TaskBonus{Receipt: "abc", UniID: "u1", Amount: "5"},
		Attempt: 3,
	}
	data, err := command.MarshalEnvelope(env)
	require.NoError(t, err)

	got, err := command.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, env, got)

	// Attempt zero stays off the wire for compatibility with earlier readers.
	fresh, err := command.Marshal(env.Cmd)
	require.NoError(t, err)
	require.NotContains(t, string(fresh), "attempt")
}

func TestClassRouting(t *testing.T) {
	require.Equal(t, command.ClassAccount, command.CreateResourceAccount{}.Class())
	require.Equal(t, command.ClassAccount, command.CreateResourceAccountAndMintToken{}.Class())
	require.Equal(t, command.ClassToken, command.MintToken{}.Class())
	require.Equal(t, command.ClassToken, command.TransferToken{}.Class())
	require.Equal(t, command.ClassToken, command.ReferralBonus{}.Class())
	require.Equal(t, command.ClassToken, command.TaskBonus{}.Class())
}

func TestNewUniID(t *testing.T) {
	a := command.NewUniID()
	b := command.NewUniID()
	require.Len(t, a, 16)
	require.NotEqual(t, a, b)
}
