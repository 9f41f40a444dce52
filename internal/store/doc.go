// Package store groups the backends of the external store used by the
// publish gateway. Subpackages implement gateway.Membership and
// gateway.Stream:
//
//   - memory: in-process, for tests and dry runs
//   - redis: sets and streams on Redis
//   - postgres: tables on Postgres
//   - pubsub: stream only, topics and subscriptions on Pub/Sub
package store
