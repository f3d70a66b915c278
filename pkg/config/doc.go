// Package config loads the run configuration of pickup.
//
// The configuration is a YAML (or TOML/JSON, by extension) document with
// upper-case top-level keys:
//
//	CONFIG_VERSION: [2, 2]
//	STAGING_AREA: /var/tmp/pickup
//	GENERATORS:
//	  - name: Home folders
//	    profile: folder
//	    config:
//	      path: /home
//	      split: true
//	TARGETS:
//	  - name: Local daily copies
//	    profile: dailyfolder
//	    config:
//	      path: /srv/backups
//	      retention: {days: 14}
//
// Scalar keys can be overridden from the environment with the PICKUP_ prefix;
// nested keys use a double underscore, e.g. PICKUP_TRACING__EXPORTER=stdout.
//
// Plugins decode their own "config" map with Decode.
package config
