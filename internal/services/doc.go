// Package services bootstraps the external services document-store backends
// depend on.
//
// A Bootstrapper probes a service's well-known endpoint. When it is not
// reachable, the bootstrapper removes any stale container of the same name,
// launches the configured image with fixed port mappings and waits a fixed
// settle delay. There is one launch attempt per service per session; there is
// no readiness polling.
//
// Every launched container is recorded in a Registry so a session can stop
// them all at the end (services.teardown). By default containers are left
// running and reused by the next run, which finds them reachable.
//
// Two launchers exist: DockerCLI shells out to the docker binary, and
// Testcontainers uses testcontainers-go with fixed host port bindings.
package services
