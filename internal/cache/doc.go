// Package cache defines the named response stores behind the edge: a static
// store filled at install time and a dynamic store filled while serving, each
// identified by a version-tagged name. Entries are keyed by the full request
// URL (query string included) and hold the complete upstream response, so the
// router can replay a cached copy byte for byte. Two backends implement Store:
// the disk backend (StoragePath/<store>/<sha1(url)>.json, written through a
// temp file + rename) and the Redis backend (one hash per store plus a set of
// store names). Activation and CLEAR_CACHE rely on Stores/DeleteStore to drop
// whole generations at once.
package cache
