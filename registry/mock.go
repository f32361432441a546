package registry

import (
	"context"

	"github.com/ruteri/medical-record-custody/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the RecordLedger interface
type MockLedger struct {
	mock.Mock
}

// Append mocks the Append method
func (m *MockLedger) Append(ctx context.Context, owner interfaces.Address, id interfaces.ContentID, fileType string, category interfaces.Category) (interfaces.MedicalRecordEntry, error) {
	args := m.Called(ctx, owner, id, fileType, category)
	return args.Get(0).(interfaces.MedicalRecordEntry), args.Error(1)
}

// List mocks the List method
func (m *MockLedger) List(ctx context.Context, owner interfaces.Address) ([]interfaces.MedicalRecordEntry, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.MedicalRecordEntry), args.Error(1)
}

// MockOracle mocks the AccessOracle and AccessAdmin interfaces
type MockOracle struct {
	mock.Mock
}

// Check mocks the Check method
func (m *MockOracle) Check(ctx context.Context, owner, requester interfaces.Address) (bool, error) {
	args := m.Called(ctx, owner, requester)
	return args.Bool(0), args.Error(1)
}

// RecordAccess mocks the RecordAccess method
func (m *MockOracle) RecordAccess(ctx context.Context, owner, requester interfaces.Address) error {
	args := m.Called(ctx, owner, requester)
	return args.Error(0)
}

// Grant mocks the Grant method
func (m *MockOracle) Grant(ctx context.Context, owner, grantee interfaces.Address) error {
	args := m.Called(ctx, owner, grantee)
	return args.Error(0)
}

// Revoke mocks the Revoke method
func (m *MockOracle) Revoke(ctx context.Context, owner, grantee interfaces.Address) error {
	args := m.Called(ctx, owner, grantee)
	return args.Error(0)
}

// AccessHistory mocks the AccessHistory method
func (m *MockOracle) AccessHistory(ctx context.Context, owner interfaces.Address) ([]interfaces.AccessEvent, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.AccessEvent), args.Error(1)
}
