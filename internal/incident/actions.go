// Package incident manages the security incident lifecycle: creation with
// computed response actions, bounded in-memory history with durable
// write-through, status updates, and notification escalation.
package incident

import "sentinel-engine/internal/schema"

// ResponseActions returns the recommended response playbook for an incident,
// determined only by threat level and category. Pure: identical inputs always
// yield an identical list.
func ResponseActions(level schema.ThreatLevel, category schema.Category) []string {
	var actions []string

	switch level {
	case schema.ThreatCritical:
		actions = append(actions,
			"Isolate affected systems",
			"Notify security team immediately",
			"Begin incident response procedures",
			"Preserve evidence for forensic analysis",
		)
	case schema.ThreatHigh:
		actions = append(actions,
			"Monitor affected systems closely",
			"Tighten access controls",
			"Notify security team",
			"Document findings",
		)
	case schema.ThreatMedium:
		actions = append(actions,
			"Increase monitoring",
			"Review related logs",
			"Consider preventive measures",
		)
	default:
		actions = append(actions, "Log for periodic review")
	}

	switch category {
	case schema.CategoryAuthentication:
		actions = append(actions, "Consider temporary account lockout")
	case schema.CategoryNetwork:
		actions = append(actions, "Analyze network traffic patterns")
	case schema.CategoryDataAccess:
		actions = append(actions, "Review data access permissions")
	}

	return actions
}
