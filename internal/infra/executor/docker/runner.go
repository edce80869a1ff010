package docker

import (
	"github.com/sirupsen/logrus"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/infra/executor/local"
)

// DefaultImage carries the audit tool plus its python dependencies.
const DefaultImage = "strati/firewall-audit:latest"

// NewRunner audits through a containerized copy of the audit tool. It is
// the subprocess driver with a docker argv prefix: /tmp is mounted through
// so the options file path stays valid inside the container, and the host
// network is used so admin interfaces reachable from this machine stay
// reachable. command overrides the image entrypoint when set.
//
// The options file must land under /tmp, which is where os.CreateTemp
// writes unless TMPDIR points elsewhere.
func NewRunner(image string, command []string, categories []domain.Category, log *logrus.Logger) (*local.Runner, error) {
	if image == "" {
		image = DefaultImage
	}
	argv := []string{
		"docker", "run", "--rm",
		"--network", "host",
		"-v", "/tmp:/tmp",
		image,
	}
	argv = append(argv, command...)
	return local.NewRunner(argv, categories, log)
}
