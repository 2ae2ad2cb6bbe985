package readiness

import (
	"fmt"

	"github.com/brashline/with-server/pkg/lib"
)

// ForSpec builds the prober a launch spec asks for.
func ForSpec(spec lib.LaunchSpec) (Prober, error) {
	tcp := TCPProber{Address: spec.Address(), DialTimeout: lib.DefaultDialTimeout}
	switch spec.Probe {
	case lib.ProbeTCP, "":
		return tcp, nil
	case lib.ProbeGRPC:
		return GRPCHealthProber{Address: spec.Address(), Service: spec.GRPCService, TCP: tcp}, nil
	default:
		return nil, fmt.Errorf("unknown probe %q", spec.Probe)
	}
}
