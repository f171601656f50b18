// Package crawler implements discovery and extraction for a hash-routed site:
// the breadth-first Frontier that enumerates `#!/` routes, the retrying
// Extractor that reads provenance fields from a page footer, the worker Pool
// that runs extraction across pages, and the Runner that ties both passes to a
// RecordStore.
package crawler
