package auth

import (
	"context"
	"testing"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &Service{DB: db}
}

func validInput() RegisterInput {
	return RegisterInput{
		UserName: "satoshi",
		Email:    "Satoshi@Example.com",
		Password: "hodl-2009!",
		Fullname: "Satoshi  Nakamoto",
	}
}

func TestRegisterThenLogin(t *testing.T) {
	s := newService(t)
	u, err := s.Register(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "satoshi@example.com", u.Email)
	assert.Equal(t, "Satoshi Nakamoto", u.Fullname)
	assert.NotEqual(t, "hodl-2009!", u.PasswordHash)

	got, err := s.FindByEmailAndPassword("satoshi@example.com", "hodl-2009!")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, got.UserID)

	_, err = s.FindByEmailAndPassword("satoshi@example.com", "wrong-pass1!")
	assert.Equal(t, ErrIncorrectPassword, err)

	_, err = s.FindByEmailAndPassword("nobody@example.com", "hodl-2009!")
	assert.Equal(t, ErrInvalidEmail, err)

	_, err = s.FindByEmailAndPassword("", "")
	assert.Equal(t, ErrEmailPasswordRequired, err)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = s.Register(ctx, validInput())
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	in := validInput()
	in.Email = "other@example.com"
	_, err = s.Register(ctx, in)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestRegisterValidation(t *testing.T) {
	s := newService(t)
	cases := map[string]func(*RegisterInput){
		"no username":    func(in *RegisterInput) { in.UserName = " " },
		"bad email":      func(in *RegisterInput) { in.Email = "not-an-email" },
		"weak password":  func(in *RegisterInput) { in.Password = "short" },
		"bad full name":  func(in *RegisterInput) { in.Fullname = "R2D2" },
		"empty fullname": func(in *RegisterInput) { in.Fullname = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := s.Register(context.Background(), in)
			assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
		})
	}
}

func TestVerifyUser_Nil(t *testing.T) {
	u, err := VerifyUser(nil)
	assert.Nil(t, u)
	assert.Equal(t, ErrNotAuthenticated, err)
}

func TestVerifyUser_NoUserID(t *testing.T) {
	u, err := VerifyUser(map[string]interface{}{"email": "a@b.com"})
	assert.Nil(t, u)
	assert.Equal(t, ErrNotAuthenticated, err)
}

func TestVerifyUser_Valid(t *testing.T) {
	u, err := VerifyUser(map[string]interface{}{
		"user_id":   "550e8400-e29b-41d4-a716-446655440000",
		"fullname":  "Test User",
		"user_name": "tester",
		"email":     "test@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", u.UserID)
	assert.Equal(t, "tester", u.UserName)
	assert.Equal(t, "test@example.com", u.Email)
}
