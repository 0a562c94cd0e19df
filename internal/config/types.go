package config

import "time"

// NodeConfig is the complete configuration for one dispatchd node.
type NodeConfig struct {
	Node    NodeSection    `yaml:"node"`
	Worker  WorkerSection  `yaml:"worker"`
	Store   StoreSection   `yaml:"store"`
	API     APISection     `yaml:"api"`
	Cluster ClusterSection `yaml:"cluster,omitempty"`
}

// NodeSection identifies this node and its logging behavior.
type NodeSection struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// WorkerSection sizes the pool draining the Scheduling Queue and tunes the
// commit-conflict retry loop a worker drives around Process.
type WorkerSection struct {
	Count          int           `yaml:"count"`
	TakeTick       time.Duration `yaml:"take_tick"`
	MaxRetries     int           `yaml:"max_commit_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	DefaultDeadline time.Duration `yaml:"default_deadline"`
}

// StoreSection points at the transactional store backing the Coordinator.
type StoreSection struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// APISection configures the HTTP ingress: command submission and status.
type APISection struct {
	Listen string `yaml:"listen"`
}

// ClusterSection names this node's leader and peers. The node binary only
// checks whether PeerAddrs is non-empty, to decide which role to report;
// nothing forwards commands to these addresses. Empty means single-node.
type ClusterSection struct {
	LeaderAddr string   `yaml:"leader_addr,omitempty"`
	PeerAddrs  []string `yaml:"peer_addrs,omitempty"`
}

// Defaults returns a NodeConfig usable standalone, with no cluster peers.
func Defaults() *NodeConfig {
	return &NodeConfig{
		Node: NodeSection{
			Name:     "dispatchd",
			LogLevel: "info",
		},
		Worker: WorkerSection{
			Count:           4,
			TakeTick:        200 * time.Millisecond,
			MaxRetries:      3,
			RetryBaseDelay:  20 * time.Millisecond,
			RetryMaxDelay:   500 * time.Millisecond,
			DefaultDeadline: 30 * time.Second,
		},
		Store: StoreSection{
			SQLitePath: "./data/dispatchd.db",
		},
		API: APISection{
			Listen: "127.0.0.1:8080",
		},
	}
}
