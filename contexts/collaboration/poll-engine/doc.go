// Package pollengine implements group decision polls inside the
// collaboration context.
//
// The module owns poll lifecycle orchestration (create/mutate options/close),
// stance recording with latest-flag replacement, stance aggregation into
// per-option totals and matrix grids, and recipient resolution for poll
// notifications through outbox-backed workers. It keeps business rules in
// application/domain layers and isolates infrastructure concerns behind ports
// and adapters.
package pollengine
