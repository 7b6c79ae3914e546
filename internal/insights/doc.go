// Package insights defines the entity graph, the collaborator interfaces, and
// the error taxonomy shared by the ingestion pipeline, its stores, and the HTTP
// read API.
package insights
