package driver

// Labels and relationship types are interpolated only from the closed
// model.Kind and model.Relation enums.
const (
	CreateNameIndexNeo4j    = `CREATE INDEX %s_name IF NOT EXISTS FOR (n:%s) ON (n.name)`
	CreateNameIndexMemgraph = `CREATE INDEX ON :%s(name);`

	GetNodeQuery = `
		MATCH (n:%s {name: $name})
		RETURN n
		LIMIT 1
	`

	LookupByNameQuery = `
		MATCH (n)
		WHERE n.name = $name
		RETURN n
	`

	AllNodesQuery = `
		MATCH (n)
		WHERE n.name IS NOT NULL
		RETURN n
	`

	// %s: start label, relationship pattern, end-node filter.
	NeighborsQuery = `
		MATCH (n:%s {name: $name})%s(m)
		WHERE m.name IS NOT NULL
		WITH n, r, m, coalesce(r.weight, 1.0) AS weight
		ORDER BY weight DESC, m.name ASC
		WITH type(r) AS rel, startNode(r) = n AS outgoing,
			collect({props: properties(r), node: m, weight: weight})[..$limit] AS items
		UNWIND items AS item
		RETURN rel, outgoing, item.weight AS weight, item.props AS props, item.node AS m
	`

	// Ranks diseases by the summed weight of the given symptoms.
	DiseasesBySymptomsQuery = `
		MATCH (s:Symptom)<-[r:HAS_SYMPTOM]-(d:Disease)
		WHERE s.name IN $symptoms
		WITH d, SUM(coalesce(r.weight, 1.0)) AS total_weight, COUNT(s) AS matched
		RETURN d AS n, total_weight, matched
		ORDER BY total_weight DESC, matched DESC, d.name ASC
		LIMIT $limit
	`
)
