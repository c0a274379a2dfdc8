// Package model defines the values exchanged between the analysis stages:
// AgentJVM identities, raw occurrences, their deduplicated metadata, the
// per-cycle FlowSummary and the AnalysisState carried between cycles.
//
// Types in this package hold no references to storage or transport and are
// safe to copy by value unless documented otherwise.
package model
