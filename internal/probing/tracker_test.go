package probing

import (
	"errors"
	"testing"

	"static-probe-analyzer/internal/engine"
)

func TestOutcomeExpect(t *testing.T) {
	accepted := Outcome{Acl: engine.AclAccept, Routing: Routed}
	denied := Outcome{Acl: engine.AclDeny, Routing: Routed}
	may := Outcome{Acl: engine.AclMay, Routing: RoutingUnknown}
	dropped := Outcome{Acl: engine.AclMay, Routing: NotRouted}

	tests := []struct {
		outcome Outcome
		expect  string
		want    bool
	}{
		{accepted, "ACCEPT", true},
		{accepted, "accept", true},
		{accepted, "!accept", false},
		{accepted, "ROUTED", true},
		{accepted, "UNACCEPTED", false},
		{denied, "DENY", true},
		{denied, "UNACCEPTED", true},
		{denied, "!ACCEPT", true},
		{may, "MAY", true},
		{may, "UNKNOWN", true},
		{may, "DENY", false},
		{dropped, "NONE-ROUTED", true},
		{dropped, "UNACCEPTED", true},
		{accepted, "", false},
		{accepted, "!", true},
	}
	for _, tt := range tests {
		got, err := tt.outcome.Expect(tt.expect)
		if err != nil {
			t.Fatalf("Expect(%q): %v", tt.expect, err)
		}
		if got != tt.want {
			t.Errorf("%v Expect(%q) = %v, want %v", tt.outcome, tt.expect, got, tt.want)
		}
	}

	if _, err := accepted.Expect("PERMIT"); !errors.Is(err, ErrInvalidExpect) {
		t.Fatalf("err = %v, want ErrInvalidExpect", err)
	}
}

func TestCombine(t *testing.T) {
	acc := Outcome{Acl: engine.AclAccept, Routing: Routed}
	den := Outcome{Acl: engine.AclDeny, Routing: Routed}
	lost := Outcome{Acl: engine.AclMay, Routing: NotRouted}
	match := Outcome{Acl: engine.AclMatch, Routing: Routed}

	tests := []struct {
		name string
		in   []Outcome
		want Outcome
	}{
		{"single", []Outcome{den}, den},
		{"all accepted", []Outcome{acc, acc}, acc},
		{"all denied", []Outcome{den, den}, den},
		{"mixed", []Outcome{acc, den}, Outcome{Acl: engine.AclMay, Routing: Routed}},
		{"partly routed", []Outcome{acc, lost}, Outcome{Acl: engine.AclMay, Routing: RoutingUnknown}},
		{"match wins", []Outcome{acc, match}, Outcome{Acl: engine.AclMatch, Routing: Routed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Combine(tt.in...); got != tt.want {
				t.Fatalf("Combine = %v, want %v", got, tt.want)
			}
		})
	}
}
