// Package config loads pipeline settings and gives plugins typed access to
// their option maps.
//
// Settings come from a YAML or JSON file layered over defaults, then from
// EXPERIENCE_* environment variables:
//
//	s, err := config.Load("experience.yaml")
//	policies := s.ConsentPolicies()
//	store, err := s.Storage.Open(ctx)
//
// A file looks like:
//
//	policies:
//	  before_consent:
//	    allowed_events: [page, track]
//	    allowed_track_events: ["nt_*"]
//	    block_profile_merging: true
//	  after_consent:
//	    allowed_events: [page, track, identify, component_view, component_seen]
//	    allowed_traits: ["*"]
//	storage:
//	  driver: sqlite
//	  sqlite_path: ./visitor.db
//	plugins:
//	  - name: buffer
//	    options:
//	      threshold: 2s
//
// Fields absent from the file keep their defaults. Plugin options are read
// through Options, which returns a caller-supplied default whenever a key is
// missing or has the wrong type:
//
//	opts := s.PluginOptions("buffer")
//	threshold := opts.Duration("threshold", 2*time.Second)
package config
