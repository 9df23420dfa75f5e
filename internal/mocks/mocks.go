// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// -- Page Session Mock --

// MockPageSession mocks schemas.PageSession for tests that exercise the
// orchestration core without a browser.
type MockPageSession struct {
	mock.Mock
}

var _ schemas.PageSession = (*MockPageSession)(nil)

func (m *MockPageSession) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPageSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	args := m.Called(ctx, selector, timeout)
	return args.Error(0)
}

func (m *MockPageSession) Click(ctx context.Context, selector string) error {
	args := m.Called(ctx, selector)
	return args.Error(0)
}

func (m *MockPageSession) Fill(ctx context.Context, selector, value string) error {
	args := m.Called(ctx, selector, value)
	return args.Error(0)
}

func (m *MockPageSession) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockPageSession) Evaluate(ctx context.Context, script string, out any) error {
	args := m.Called(ctx, script, out)
	return args.Error(0)
}

func (m *MockPageSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPageSession) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageSession) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.([]schemas.Cookie), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPageSession) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	args := m.Called(ctx, cookies)
	return args.Error(0)
}

func (m *MockPageSession) ClearCookies(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPageSession) ReadStorage(ctx context.Context, kind schemas.StorageKind) (map[string]string, error) {
	args := m.Called(ctx, kind)
	if s := args.Get(0); s != nil {
		return s.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPageSession) WriteStorage(ctx context.Context, kind schemas.StorageKind, items map[string]string) error {
	args := m.Called(ctx, kind, items)
	return args.Error(0)
}

func (m *MockPageSession) ClearStorage(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPageSession) Reload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPageSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Auth Service Mock --

// MockAuthService mocks schemas.AuthService for runner and module tests.
type MockAuthService struct {
	mock.Mock
}

var _ schemas.AuthService = (*MockAuthService)(nil)

func (m *MockAuthService) EnsureAuthenticated(ctx context.Context, page schemas.PageSession, creds schemas.Credentials) bool {
	args := m.Called(ctx, page, creds)
	return args.Bool(0)
}

func (m *MockAuthService) IsAuthenticated(ctx context.Context, page schemas.PageSession) bool {
	args := m.Called(ctx, page)
	return args.Bool(0)
}

func (m *MockAuthService) PerformLogin(ctx context.Context, page schemas.PageSession, creds schemas.Credentials) bool {
	args := m.Called(ctx, page, creds)
	return args.Bool(0)
}

// -- Test Module Mock --

// MockTestModule is a scriptable module for runner tests.
type MockTestModule struct {
	mock.Mock
	ModuleName string
}

var _ schemas.TestModule = (*MockTestModule)(nil)

func (m *MockTestModule) Name() string { return m.ModuleName }

func (m *MockTestModule) Execute(ctx context.Context, rc *schemas.RunContext) error {
	args := m.Called(ctx, rc)
	return args.Error(0)
}
