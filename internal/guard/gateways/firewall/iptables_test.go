package firewall

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/coreos/go-iptables/iptables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/domain"
)

// fakeTable emulates one iptables family. Rules are stored per chain as joined specs.
type fakeTable struct {
	chains    map[string][]string
	existsErr error
	insertErr error
	deleteErr error
	calls     []string
}

func newFakeTable() *fakeTable { return &fakeTable{chains: map[string][]string{}} }

func (f *fakeTable) key(table, chain string) string { return table + "/" + chain }

func (f *fakeTable) Exists(table, chain string, spec ...string) (bool, error) {
	f.calls = append(f.calls, "exists")
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return slices.Contains(f.chains[f.key(table, chain)], strings.Join(spec, " ")), nil
}

func (f *fakeTable) Insert(table, chain string, pos int, spec ...string) error {
	f.calls = append(f.calls, fmt.Sprintf("insert@%d", pos))
	if f.insertErr != nil {
		return f.insertErr
	}
	k := f.key(table, chain)
	f.chains[k] = append([]string{strings.Join(spec, " ")}, f.chains[k]...)
	return nil
}

func (f *fakeTable) Delete(table, chain string, spec ...string) error {
	f.calls = append(f.calls, "delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	k := f.key(table, chain)
	rule := strings.Join(spec, " ")
	i := slices.Index(f.chains[k], rule)
	if i < 0 {
		return errors.New("iptables: Bad rule (does a matching rule exist in that chain?).")
	}
	f.chains[k] = slices.Delete(f.chains[k], i, i+1)
	return nil
}

func (f *fakeTable) count(chain, rule string) int {
	n := 0
	for _, r := range f.chains[f.key(filterTable, chain)] {
		if r == rule {
			n++
		}
	}
	return n
}

func newTestManager(v4, v6 *fakeTable, v4Err, v6Err error) *IPTables {
	return NewIPTables(IPTablesOptions{
		Chain:  "OUTPUT",
		Logger: log.NewNoopLogger(),
		NewTable: func(proto iptables.Protocol) (ruleTable, error) {
			if proto == iptables.ProtocolIPv4 {
				if v4Err != nil {
					return nil, v4Err
				}
				return v4, nil
			}
			if v6Err != nil {
				return nil, v6Err
			}
			return v6, nil
		},
	})
}

func TestIPTables_BlockIsIdempotent(t *testing.T) {
	v4 := newFakeTable()
	m := newTestManager(v4, newFakeTable(), nil, nil)
	ctx := context.Background()

	st, err := m.Block(ctx, "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleBlocked, st)

	st, err = m.Block(ctx, "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleAlreadyBlocked, st)

	assert.Equal(t, 1, v4.count("OUTPUT", "-d 93.184.216.34 -j DROP"))
	assert.Equal(t, []string{"exists", "insert@1", "exists"}, v4.calls)
}

func TestIPTables_RoundTrip(t *testing.T) {
	v4 := newFakeTable()
	m := newTestManager(v4, newFakeTable(), nil, nil)
	ctx := context.Background()

	_, err := m.Block(ctx, "203.0.113.9")
	require.NoError(t, err)
	st, err := m.Unblock(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleUnblocked, st)
	assert.Zero(t, v4.count("OUTPUT", "-d 203.0.113.9 -j DROP"))

	st, err = m.Unblock(ctx, "203.0.113.9")
	assert.ErrorIs(t, err, domain.ErrRuleAbsent)
	assert.Equal(t, domain.RuleUnchanged, st)
}

func TestIPTables_IPv6UsesSecondTable(t *testing.T) {
	v4, v6 := newFakeTable(), newFakeTable()
	m := newTestManager(v4, v6, nil, nil)

	st, err := m.Block(context.Background(), "2606:4700::1111")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleBlocked, st)
	assert.Equal(t, 1, v6.count("OUTPUT", "-d 2606:4700::1111 -j DROP"))
	assert.Empty(t, v4.calls)

	// v4-mapped addresses go to the IPv4 table
	_, err = m.Block(context.Background(), "::ffff:198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, 1, v4.count("OUTPUT", "-d 198.51.100.4 -j DROP"))
}

func TestIPTables_RefusesBeforeTouchingTable(t *testing.T) {
	v4 := newFakeTable()
	m := newTestManager(v4, newFakeTable(), nil, nil)
	ctx := context.Background()

	for _, target := range []string{"10.0.0.1", "192.168.1.50", "127.0.0.1", "224.0.0.251", "169.254.1.1", "0.0.0.0", "255.255.255.255"} {
		_, err := m.Block(ctx, target)
		assert.ErrorIs(t, err, domain.ErrLocalAddress, target)
	}
	for _, target := range []string{"tracker.example.net", "", "1.2.3"} {
		_, err := m.Block(ctx, target)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, target)
	}
	_, err := m.Unblock(ctx, "not-an-ip")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	assert.Empty(t, v4.calls)
}

func TestIPTables_ToolMissing(t *testing.T) {
	m := newTestManager(nil, newFakeTable(), exec.ErrNotFound, nil)

	_, err := m.Block(context.Background(), "93.184.216.34")
	assert.ErrorIs(t, err, domain.ErrToolMissing)
	_, err = m.Unblock(context.Background(), "93.184.216.34")
	assert.ErrorIs(t, err, domain.ErrToolMissing)

	// the other family keeps working
	st, err := m.Block(context.Background(), "2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, domain.RuleBlocked, st)
}

func TestIPTables_ErrorClassification(t *testing.T) {
	denied := errors.New("iptables v1.8.7 (nf_tables): Could not fetch rule set generation id: Permission denied (you must be root)")
	tests := []struct {
		name   string
		setup  func(f *fakeTable)
		op     func(m *IPTables) error
		target error
	}{
		{
			name:   "check permission denied",
			setup:  func(f *fakeTable) { f.existsErr = denied },
			op:     func(m *IPTables) error { _, err := m.Block(context.Background(), "93.184.216.34"); return err },
			target: domain.ErrPermissionDenied,
		},
		{
			name:   "insert permission denied",
			setup:  func(f *fakeTable) { f.insertErr = denied },
			op:     func(m *IPTables) error { _, err := m.Block(context.Background(), "93.184.216.34"); return err },
			target: domain.ErrPermissionDenied,
		},
		{
			name:   "insert other failure",
			setup:  func(f *fakeTable) { f.insertErr = errors.New("iptables: No chain/target/match by that name.") },
			op:     func(m *IPTables) error { _, err := m.Block(context.Background(), "93.184.216.34"); return err },
			target: domain.ErrFirewallAction,
		},
		{
			name: "delete races with external removal",
			setup: func(f *fakeTable) {
				f.chains[f.key(filterTable, "OUTPUT")] = []string{"-d 93.184.216.34 -j DROP"}
				f.deleteErr = errors.New("iptables: Bad rule (does a matching rule exist in that chain?).")
			},
			op:     func(m *IPTables) error { _, err := m.Unblock(context.Background(), "93.184.216.34"); return err },
			target: domain.ErrRuleAbsent,
		},
		{
			name:   "binary vanished",
			setup:  func(f *fakeTable) { f.existsErr = fmt.Errorf("running iptables: %w", exec.ErrNotFound) },
			op:     func(m *IPTables) error { _, err := m.Block(context.Background(), "93.184.216.34"); return err },
			target: domain.ErrToolMissing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v4 := newFakeTable()
			tt.setup(v4)
			m := newTestManager(v4, newFakeTable(), nil, nil)
			err := tt.op(m)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestIPTables_CanceledContext(t *testing.T) {
	v4 := newFakeTable()
	m := newTestManager(v4, newFakeTable(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Block(ctx, "93.184.216.34")
	assert.ErrorIs(t, err, domain.ErrFirewallAction)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, v4.calls)
}

func TestIPTables_DefaultChain(t *testing.T) {
	v4 := newFakeTable()
	m := NewIPTables(IPTablesOptions{
		Logger:   log.NewNoopLogger(),
		NewTable: func(iptables.Protocol) (ruleTable, error) { return v4, nil },
	})
	_, err := m.Block(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, 1, v4.count(defaultChain, "-d 93.184.216.34 -j DROP"))
}
