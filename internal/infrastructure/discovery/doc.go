// Package discovery registers relay nodes in etcd.
//
// Each running relay writes /<prefix>/nodes/<name>/<node-id> with its API
// address under a lease that is kept alive while the node runs. A node that
// dies stops renewing, and etcd removes its key once the lease expires.
package discovery
