package redisstore

import (
	"fmt"

	"github.com/dyluth/sevai/pkg/vault"
)

// Redis key pattern helpers
//
// All keys are namespaced by instance name so several deployments can share
// one Redis server.
//
// Key pattern: sevai:{instance_name}:{kind}:{suffix}

// RecordKey returns the key of one record hash.
// Pattern: sevai:{instance_name}:{kind}:{id}
func RecordKey(instanceName string, kind vault.Kind, id int64) string {
	return fmt.Sprintf("sevai:%s:%s:%d", instanceName, kind, id)
}

// HeadKey returns the key holding the hash of the newest record in a chain.
// Pattern: sevai:{instance_name}:{kind}:head
func HeadKey(instanceName string, kind vault.Kind) string {
	return fmt.Sprintf("sevai:%s:%s:head", instanceName, kind)
}

// SeqKey returns the key holding the id of the newest record in a chain.
// Pattern: sevai:{instance_name}:{kind}:seq
func SeqKey(instanceName string, kind vault.Kind) string {
	return fmt.Sprintf("sevai:%s:%s:seq", instanceName, kind)
}

// ExecutionIndexKey returns the ZSET of record ids linked to an execution.
// Pattern: sevai:{instance_name}:{kind}:execution:{execution_id}
func ExecutionIndexKey(instanceName string, kind vault.Kind, executionID int64) string {
	return fmt.Sprintf("sevai:%s:%s:execution:%d", instanceName, kind, executionID)
}
