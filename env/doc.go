// Package env implements the environment coordinator: admission of readers
// and writers against a shared meta-tree, commit serialization via an
// append-only log and meta-tree root swap, snapshot isolation for
// in-flight transactions, structure-id allocation, store lifecycle, the
// transaction-safe deferred task queue, and the inoperative/closed state
// machine.
//
// The physical log and the persistent B-tree proper are external
// collaborators; this package consumes only the narrow contract described
// in Log and Tree, and ships default in-memory and file-backed
// implementations (MemLog/FileLog, MemTreeStore) so the coordinator is
// exercisable standalone.
package env
