package acprpc_test

import (
	"testing"

	"github.com/acpcore/acprpc"
)

func TestDefaultMatrixStyles(t *testing.T) {
	tests := []struct {
		local, remote acprpc.Role
		want          acprpc.RemoteStyle
	}{
		{acprpc.RoleClient, acprpc.RoleAgent, acprpc.StyleCounterpart},
		{acprpc.RoleAgent, acprpc.RoleClient, acprpc.StyleCounterpart},
		{acprpc.RoleConductor, acprpc.RoleProxy, acprpc.StyleCounterpart},
		{acprpc.RoleProxy, acprpc.RoleAgent, acprpc.StyleSuccessor},
		{acprpc.RoleMcpClient, acprpc.RoleMcpServer, acprpc.StyleCounterpart},
	}
	for _, test := range tests {
		if got := acprpc.DefaultMatrix.Style(test.local, test.remote); got != test.want {
			t.Errorf("Style(%s, %s): got %s, want %s", test.local, test.remote, got, test.want)
		}
	}
}

func TestRoleMatrixUnregisteredPairDefaultsToCounterpart(t *testing.T) {
	m := acprpc.NewRoleMatrix(nil)
	if got := m.Style(acprpc.RoleClient, acprpc.RoleMcpServer); got != acprpc.StyleCounterpart {
		t.Errorf("Style on unregistered pair: got %s, want counterpart", got)
	}
}

func TestCheckSendsTo(t *testing.T) {
	if err := acprpc.CheckSendsTo[pingRequest](acprpc.RoleClient, acprpc.RoleClient, acprpc.RoleProxy); err != nil {
		t.Errorf("CheckSendsTo: unexpected error for allowed role: %v", err)
	}
	if err := acprpc.CheckSendsTo[pingRequest](acprpc.RoleAgent, acprpc.RoleClient, acprpc.RoleProxy); err == nil {
		t.Errorf("CheckSendsTo: want error for disallowed role, got nil")
	}
}

func TestWithWrapDoesNotMutateOriginal(t *testing.T) {
	base := acprpc.NewRoleMatrix(nil).Set(acprpc.RoleProxy, acprpc.RoleAgent, acprpc.StyleSuccessor)
	wrapped := base.WithWrap(func(u acprpc.UntypedMessage) (acprpc.UntypedMessage, error) {
		return u, nil
	})
	if got := base.Style(acprpc.RoleProxy, acprpc.RoleAgent); got != acprpc.StyleSuccessor {
		t.Errorf("base.Style: got %s, want successor", got)
	}
	if got := wrapped.Style(acprpc.RoleProxy, acprpc.RoleAgent); got != acprpc.StyleSuccessor {
		t.Errorf("wrapped.Style: got %s, want successor", got)
	}
}
