package orgs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(NewStore(storagetest.NewSQLite(t)),
		WithMetrics(metrics),
		WithClock(func() time.Time { return testNow }),
	)
	return m, metrics
}

func mustCreate(t *testing.T, m *Manager, code, parent string) *Organization {
	t.Helper()
	org, err := m.Create(context.Background(), CreateOrgRequest{Code: code, Name: "Org " + code, ParentCode: parent})
	require.NoError(t, err)
	return org
}

func assertTreeInvariant(t *testing.T, m *Manager) {
	t.Helper()
	violations, err := m.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	r := mustCreate(t, m, "R", "")
	assert.Equal(t, 0, r.Depth)
	assert.Equal(t, "/R/", r.Path)
	assert.Equal(t, StatusActive, r.Status)

	c1 := mustCreate(t, m, "C1", "R")
	assert.Equal(t, 1, c1.Depth)
	assert.Equal(t, "/R/C1/", c1.Path)

	c2 := mustCreate(t, m, "C2", "C1")
	assert.Equal(t, 2, c2.Depth)
	assert.Equal(t, "/R/C1/C2/", c2.Path)

	got, err := m.Get(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, "C1", got.ParentCode)
	assert.Equal(t, "Org C2", got.Name)

	t.Run("duplicate code", func(t *testing.T) {
		_, err := m.Create(ctx, CreateOrgRequest{Code: "C1", Name: "again", ParentCode: "R"})
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrConflict)
		assert.Equal(t, errs.DuplicateCode, errs.ReasonOf(err))
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := m.Create(ctx, CreateOrgRequest{Code: "X", Name: "x", ParentCode: "NOPE"})
		require.Error(t, err)
		assert.Equal(t, errs.InvalidParent, errs.ReasonOf(err))
	})

	t.Run("disabled parent", func(t *testing.T) {
		mustCreate(t, m, "OLD", "R")
		_, err := m.Delete(ctx, "OLD")
		require.NoError(t, err)

		_, err = m.Create(ctx, CreateOrgRequest{Code: "Y", Name: "y", ParentCode: "OLD"})
		require.Error(t, err)
		assert.Equal(t, errs.InvalidParent, errs.ReasonOf(err))
	})

	t.Run("invalid code", func(t *testing.T) {
		_, err := m.Create(ctx, CreateOrgRequest{Code: "A/B", Name: "bad"})
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	assertTreeInvariant(t, m)
}

func TestMove_Scenario(t *testing.T) {
	ctx := context.Background()
	m, metrics := newTestManager(t)

	mustCreate(t, m, "R", "")
	mustCreate(t, m, "C1", "R")
	mustCreate(t, m, "C2", "C1")

	res, err := m.Move(ctx, "C1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, "R", res.Before.ParentCode)
	assert.Equal(t, "", res.After.ParentCode)

	c1, err := m.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, c1.Depth)
	assert.Equal(t, "/C1/", c1.Path)

	c2, err := m.Get(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, 1, c2.Depth)
	assert.Equal(t, "/C1/C2/", c2.Path)

	res, err = m.Move(ctx, "C2", "R")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	c2, err = m.Get(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, "R", c2.ParentCode)
	assert.Equal(t, 1, c2.Depth)
	assert.Equal(t, "/R/C2/", c2.Path)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.HierarchyNodesMovedTotal))
	assertTreeInvariant(t, m)
}

func TestMove_CycleSafety(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	// chain R -> N1 -> N2 -> ... -> N5
	mustCreate(t, m, "R", "")
	parent := "R"
	for i := 1; i <= 5; i++ {
		code := fmt.Sprintf("N%d", i)
		mustCreate(t, m, code, parent)
		parent = code
	}

	t.Run("self parent", func(t *testing.T) {
		_, err := m.Move(ctx, "N2", "N2")
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrConflict)
		assert.Equal(t, errs.SelfParent, errs.ReasonOf(err))
	})

	for i := 2; i <= 5; i++ {
		target := fmt.Sprintf("N%d", i)
		t.Run("into descendant "+target, func(t *testing.T) {
			_, err := m.Move(ctx, "N1", target)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConflict)
			assert.Equal(t, errs.CycleDetected, errs.ReasonOf(err))
		})
	}

	t.Run("root into its leaf", func(t *testing.T) {
		_, err := m.Move(ctx, "R", "N5")
		require.Error(t, err)
		assert.Equal(t, errs.CycleDetected, errs.ReasonOf(err))
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := m.Move(ctx, "GHOST", "R")
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("similar prefix is not a descendant", func(t *testing.T) {
		mustCreate(t, m, "N10", "R")
		_, err := m.Move(ctx, "N10", "N1")
		require.NoError(t, err)
	})

	t.Run("no-op move", func(t *testing.T) {
		res, err := m.Move(ctx, "N3", "N2")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Updated)
	})

	assertTreeInvariant(t, m)
}

func TestMove_PreservesStructure(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	mustCreate(t, m, "R", "")
	mustCreate(t, m, "S", "")
	mustCreate(t, m, "A", "R")
	mustCreate(t, m, "B", "A")
	mustCreate(t, m, "C", "A")
	mustCreate(t, m, "D", "B")

	res, err := m.Move(ctx, "A", "S")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Updated)

	sub, err := m.Children(ctx, "S", false)
	require.NoError(t, err)
	paths := make([]string, len(sub))
	for i, o := range sub {
		paths[i] = o.Path
	}
	assert.Equal(t, []string{"/S/A/", "/S/A/B/", "/S/A/C/", "/S/A/B/D/"}, paths)

	rest, err := m.Children(ctx, "R", false)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assertTreeInvariant(t, m)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	mustCreate(t, m, "R", "")
	mustCreate(t, m, "C1", "R")

	_, err := m.Delete(ctx, "R")
	require.Error(t, err)
	assert.Equal(t, errs.HasChildren, errs.ReasonOf(err))

	member, err := m.CreateMember(ctx, CreateMemberRequest{
		Code: "alice", LoginName: "alice", OrgCode: "C1", RoleID: "role-3", CredentialHash: "hash",
	})
	require.NoError(t, err)

	_, err = m.Delete(ctx, "C1")
	require.Error(t, err)
	assert.Equal(t, errs.HasMembers, errs.ReasonOf(err))

	_, err = m.SetMemberStatus(ctx, member.ID, StatusDisabled)
	require.NoError(t, err)

	c1, err := m.Delete(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, c1.Status)

	again, err := m.Delete(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, again.Status)

	r, err := m.Delete(ctx, "R")
	require.NoError(t, err)
	assert.False(t, r.IsActive())

	t.Run("enable requires active parent", func(t *testing.T) {
		_, err := m.Enable(ctx, "C1")
		require.Error(t, err)
		assert.Equal(t, errs.InvalidParent, errs.ReasonOf(err))

		_, err = m.Enable(ctx, "R")
		require.NoError(t, err)
		c1, err := m.Enable(ctx, "C1")
		require.NoError(t, err)
		assert.True(t, c1.IsActive())
	})

	_, err = m.Delete(ctx, "GHOST")
	assert.True(t, errs.IsNotFound(err))
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	mustCreate(t, m, "R", "")
	mustCreate(t, m, "B", "R")
	mustCreate(t, m, "A", "R")
	mustCreate(t, m, "A1", "A")
	mustCreate(t, m, "Z", "")

	t.Run("children ordered by depth then code", func(t *testing.T) {
		got, err := m.Children(ctx, "R", true)
		require.NoError(t, err)
		codes := make([]string, len(got))
		for i, o := range got {
			codes[i] = o.Code
		}
		assert.Equal(t, []string{"R", "A", "B", "A1"}, codes)

		got, err = m.Children(ctx, "A", false)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "A1", got[0].Code)
	})

	t.Run("ancestors", func(t *testing.T) {
		got, err := m.Ancestors(ctx, "A1", false)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "R", got[0].Code)
		assert.Equal(t, "A", got[1].Code)

		got, err = m.Ancestors(ctx, "A1", true)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = m.Ancestors(ctx, "R", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("tree", func(t *testing.T) {
		forest, err := m.Tree(ctx, "")
		require.NoError(t, err)
		require.Len(t, forest, 2)
		assert.Equal(t, "R", forest[0].Code)
		assert.Equal(t, "Z", forest[1].Code)
		require.Len(t, forest[0].Children, 2)
		assert.Equal(t, "A", forest[0].Children[0].Code)
		require.Len(t, forest[0].Children[0].Children, 1)

		sub, err := m.Tree(ctx, "A")
		require.NoError(t, err)
		require.Len(t, sub, 1)
		assert.Equal(t, "A1", sub[0].Children[0].Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := m.Children(ctx, "GHOST", true)
		assert.True(t, errs.IsNotFound(err))
		_, err = m.Tree(ctx, "GHOST")
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	mustCreate(t, m, "R", "")

	name := "Renamed"
	org, err := m.Update(ctx, "R", UpdateOrgRequest{Name: &name, Contact: &Contact{Email: "ops@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", org.Name)

	got, err := m.Get(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.Contact.Email)

	_, err = m.Update(ctx, "R", UpdateOrgRequest{Contact: &Contact{Email: "not-an-email"}})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestVerify_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	m, metrics := newTestManager(t)

	mustCreate(t, m, "R", "")
	mustCreate(t, m, "C1", "R")

	_, err := m.Store().DB().ExecContext(ctx, `UPDATE organizations SET depth = 5 WHERE code = ?`, "C1")
	require.NoError(t, err)

	violations, err := m.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "C1", violations[0].Code)
	assert.Equal(t, 1, violations[0].ExpectedDepth)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HierarchyIntegrityViolations))
}
