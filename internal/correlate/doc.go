// Package correlate pairs firing alert tickets with the resolved tickets
// that close them and sorts each pair into a disposition by how quickly
// the alert resolved. It performs no I/O; the resolution service acts on
// the resulting Partition.
package correlate
