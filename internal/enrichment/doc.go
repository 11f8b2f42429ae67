// Package enrichment defines the domain types and collaborator contracts
// shared by the job queue, the verification engine and the worker runtime.
package enrichment
