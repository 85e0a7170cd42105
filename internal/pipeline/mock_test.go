package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/roach88/aegis/internal/lookup"
)

// --- Opener Mock ---

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context, username, password string) (lookup.Session, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(lookup.Session), args.Error(1)
}

// --- Session Mock ---

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Lookup(ctx context.Context, identifier string) ([]string, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Ensure interface compliance ---
var (
	_ lookup.Opener  = (*mockOpener)(nil)
	_ lookup.Session = (*mockSession)(nil)
)
