// Package memory is the public facade: Remember, Recall, Forget, Restore,
// and LoadExternalContent compose persistence, retrieval, asynchronous
// enrichment, and working-memory promotion behind one API.
package memory
