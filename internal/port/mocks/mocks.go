// Package mocks holds testify mocks for the port interfaces.
package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/port"
)

type ResolverMock struct {
	mock.Mock
}

func NewResolverMock(t *testing.T) *ResolverMock {
	m := &ResolverMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ResolverMock) Resolve(ctx context.Context, locator string, quality domain.Quality) (domain.Resolution, error) {
	args := m.Called(ctx, locator, quality)
	return args.Get(0).(domain.Resolution), args.Error(1)
}

type StateStoreMock struct {
	mock.Mock
}

func NewStateStoreMock(t *testing.T) *StateStoreMock {
	m := &StateStoreMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *StateStoreMock) Save(state port.State) error {
	args := m.Called(state)
	return args.Error(0)
}

func (m *StateStoreMock) Load() (port.State, error) {
	args := m.Called()
	return args.Get(0).(port.State), args.Error(1)
}

func (m *StateStoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type PlaylistExpanderMock struct {
	mock.Mock
}

func NewPlaylistExpanderMock(t *testing.T) *PlaylistExpanderMock {
	m := &PlaylistExpanderMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PlaylistExpanderMock) Expand(ctx context.Context, locator string) ([]port.PlaylistEntry, error) {
	args := m.Called(ctx, locator)
	entries, _ := args.Get(0).([]port.PlaylistEntry)
	return entries, args.Error(1)
}

var (
	_ port.Resolver         = (*ResolverMock)(nil)
	_ port.StateStore       = (*StateStoreMock)(nil)
	_ port.PlaylistExpander = (*PlaylistExpanderMock)(nil)
)
