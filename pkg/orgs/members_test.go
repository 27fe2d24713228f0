package orgs

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/storage"
)

func TestMembers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	mustCreate(t, m, "ORG-A", "")

	alice, err := m.CreateMember(ctx, CreateMemberRequest{
		Code: "M001", LoginName: "alice", DisplayName: "Alice",
		OrgCode: "ORG-A", RoleID: "role-2", CredentialHash: "hash",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, alice.ID)
	assert.Equal(t, StatusActive, alice.Status)

	t.Run("find by login name or code", func(t *testing.T) {
		byLogin, err := m.FindMemberByLogin(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, byLogin.ID)

		byCode, err := m.FindMemberByLogin(ctx, "M001")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, byCode.ID)
		assert.Equal(t, "hash", byCode.CredentialHash)

		_, err = m.FindMemberByLogin(ctx, "bob")
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("duplicate login", func(t *testing.T) {
		_, err := m.CreateMember(ctx, CreateMemberRequest{
			Code: "M002", LoginName: "alice", OrgCode: "ORG-A", RoleID: "role-3", CredentialHash: "h",
		})
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("unknown org", func(t *testing.T) {
		_, err := m.CreateMember(ctx, CreateMemberRequest{
			Code: "M003", LoginName: "carol", OrgCode: "NOPE", RoleID: "role-3", CredentialHash: "h",
		})
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("record login", func(t *testing.T) {
		require.NoError(t, m.RecordLogin(ctx, alice.ID))
		require.NoError(t, m.RecordLogin(ctx, alice.ID))

		got, err := m.GetMember(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.LoginCount)
		require.NotNil(t, got.LastLoginAt)
		assert.True(t, got.LastLoginAt.Equal(testNow))

		assert.True(t, errs.IsNotFound(m.RecordLogin(ctx, "missing")))
	})

	t.Run("change role", func(t *testing.T) {
		before, err := m.ChangeMemberRole(ctx, alice.ID, "role-3")
		require.NoError(t, err)
		assert.Equal(t, "role-2", before.RoleID)

		got, err := m.GetMember(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "role-3", got.RoleID)

		_, err = m.ChangeMemberRole(ctx, alice.ID, "")
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("status", func(t *testing.T) {
		_, err := m.SetMemberStatus(ctx, alice.ID, "bogus")
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))

		_, err = m.SetMemberStatus(ctx, alice.ID, StatusDisabled)
		require.NoError(t, err)
		got, err := m.GetMember(ctx, alice.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive())
	})

	t.Run("list", func(t *testing.T) {
		members, err := m.ListMembers(ctx, "ORG-A")
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "M001", members[0].Code)
	})
}

func TestCreateMember_LocksOrganization(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	m := NewManager(NewStore(storage.NewDB(mockDB, storage.DialectPostgres)))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM organizations WHERE code = \$1 FOR UPDATE`).
		WithArgs("ORG-A").
		WillReturnRows(sqlmock.NewRows([]string{"code"}))
	mock.ExpectRollback()

	_, err = m.CreateMember(context.Background(), CreateMemberRequest{
		Code: "M001", LoginName: "alice", OrgCode: "ORG-A", RoleID: "role-2", CredentialHash: "hash",
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMember_DisabledOrganization(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	mustCreate(t, m, "ORG-A", "")
	_, err := m.Delete(ctx, "ORG-A")
	require.NoError(t, err)

	_, err = m.CreateMember(ctx, CreateMemberRequest{
		Code: "M001", LoginName: "alice", OrgCode: "ORG-A", RoleID: "role-2", CredentialHash: "hash",
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
