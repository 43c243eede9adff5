package engine

import "caseflow/internal/domain"

// Group partitions rows into bulk targets by parent incident in one stable pass.
// Every row without an incident becomes its own singleton group, even when
// another row carries the same subcase ID or an incident ID spelled the same.
// Groups appear in first-seen order; rows keep their input order.
func Group(rows []domain.Subcase) []domain.IncidentGroup {
	index := make(map[string]int, len(rows))
	groups := make([]domain.IncidentGroup, 0)
	for _, row := range rows {
		if !row.HasIncident() {
			groups = append(groups, domain.IncidentGroup{
				Key:              row.ID,
				Rows:             []domain.Subcase{row},
				TargetSubcaseIDs: []string{row.ID},
			})
			continue
		}
		incident := *row.IncidentID
		i, ok := index[incident]
		if !ok {
			groups = append(groups, domain.IncidentGroup{Key: incident, IncidentID: &incident})
			i = len(groups) - 1
			index[incident] = i
		}
		groups[i].Rows = append(groups[i].Rows, row)
		groups[i].TargetSubcaseIDs = append(groups[i].TargetSubcaseIDs, row.ID)
	}
	return groups
}
