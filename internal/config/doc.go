// Package config provides configuration management for the Bartholomew
// memory engine.
//
// # Overview
//
// The config package uses Viper to load YAML configuration files and
// environment variables. It provides a type-safe configuration
// structure with defaults (a default kernel.yaml is written only by an
// explicit WriteDefaultKernelConfig call), split across
// three files mirroring Bartholomew's own layout: kernel.yaml (FTS and
// retrieval tuning), embeddings.yaml (embedding provider/model/dim),
// and policy.yaml (indexing policy gates). memory_rules.yaml is parsed
// separately by internal/memory.MemoryRulesEngine since its schema is
// rule-shaped rather than struct-shaped.
//
// # Environment Variables
//
// Configuration values can be overridden using environment variables
// with the BARTHO_ prefix. Nested fields are separated by underscores,
// e.g. BARTHO_RETRIEVAL_RRF_K=80.
package config
