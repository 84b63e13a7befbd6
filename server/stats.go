package server

// ServerStats is a cheap, instantaneous diagnostic snapshot, distinct
// from the cumulative Prometheus counters in package metrics.
type ServerStats struct {
	TotalConnections int
	TotalDocuments   int
}

// Stats returns a point-in-time snapshot of connection/document
// counts.
func (s *CollaborationServer) Stats() ServerStats {
	return ServerStats{
		TotalConnections: s.connections.TotalConnections(),
		TotalDocuments:   s.connections.TotalDocuments(),
	}
}
