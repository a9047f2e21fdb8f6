// Package plan loads and validates the resource plan consumed by the
// orchestration engine.
//
// A plan document is YAML (.yaml, .yml) or CUE (.cue). CUE documents are
// unified with the schema in schema.go before decoding; both formats are
// then checked with struct tags and cross-resource rules. Durations are
// whole seconds in documents and time.Duration in the typed Plan.
//
//	vm:
//	  id: 100
//	  health_check: {type: http, host: 10.0.0.10, port: 443, scheme: https}
//	mounts:
//	  - {type: nfs, source: "10.0.0.10:/mnt/tank/media", target: /mnt/media}
//	containers:
//	  - {id: 101, name: jellyfin, wait: 10, depends_on_mount: /mnt/media}
//
// Load reports ErrConfigMissing when the file does not exist and
// ErrConfigInvalid for any parse or validation failure.
package plan
