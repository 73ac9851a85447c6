package controlplane

import (
	"context"
	"sort"

	"github.com/gobwas/glob"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InspectState dumps the configured components whose path matches the
// requested glob pattern. Paths look like "proc3/matcher1",
// "proc0/parser" or "accel/sigmoid".
func (m *CfgService) InspectState(
	ctx context.Context,
	request *InspectStateRequest,
) (*InspectStateResponse, error) {

	ppl, err := m.pipeline()
	if err != nil {
		return nil, err
	}

	pattern := request.Pattern
	if pattern == "" {
		pattern = "**"
	}
	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to compile pattern: %v", err)
	}

	state := ppl.Describe()

	paths := make([]string, 0, len(state))
	for path := range state {
		if matcher.Match(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	response := &InspectStateResponse{
		Entries: make([]InspectEntry, 0, len(paths)),
	}
	for _, path := range paths {
		response.Entries = append(response.Entries, InspectEntry{
			Path:    path,
			Summary: state[path],
		})
	}

	return response, nil
}
