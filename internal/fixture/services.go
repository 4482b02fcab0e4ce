package fixture

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/fyrsmithlabs/storeharness/internal/services"
)

// RequireService ensures the named service is running and returns its
// definition. It fails the test if the service cannot be brought up.
func (s *Session) RequireService(t testing.TB, name string) services.Service {
	t.Helper()
	svc, err := s.bootstrap.Service(name)
	if err != nil {
		t.Fatalf("%v", err)
	}
	ctx := logging.WithTestName(context.Background(), t.Name())
	if err := s.Ensure(ctx, name); err != nil {
		t.Fatalf("service %s unavailable: %v", name, err)
	}
	return svc
}

// RequireTool fails the test with install guidance when the named
// executable is missing, and returns its path otherwise.
func RequireTool(t testing.TB, name string) string {
	t.Helper()
	path, err := services.RequireTool(name)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return path
}
