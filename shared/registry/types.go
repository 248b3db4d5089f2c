// shared/registry/types.go
package registry

// RedisRegistryHashPrefix is the prefix of the Redis hash holding every instance
// of one service type: "services:<serviceType>", e.g. "services:projector-service".
const RedisRegistryHashPrefix = "services:"

// Service types registered by this repository.
const (
	IngestServiceType    = "ingest-service"
	ProjectorServiceType = "projector-service"
	QueryServiceType     = "query-service"
)

// ServiceInfo represents the details of a registered service instance.
// This information is stored in Redis and used for service discovery.
type ServiceInfo struct {
	ServiceID   string            `json:"serviceId"`   // Unique ID for this specific instance
	ServiceType string            `json:"serviceType"` // e.g. "projector-service"
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	LastSeen    int64             `json:"last_seen"`          // Unix milliseconds of the last heartbeat
	Metadata    map[string]string `json:"metadata,omitempty"` // Optional: additional key-value pairs (e.g., "version")
}
