package supervisor

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/opensandbox/kitsync/pkg/types"
)

// deployToken identifies the kit to the deploy UI.
const deployToken = "12a-124-45634-12345-1swer"

var deploySteps = []string{
	"Receive deploy request \r\n",
	"Check syntax.... \r\n",
	"Build docker image \r\n",
	"Send to HW kit \r\n",
	"Run docker on HW kit \r\n",
	"Deploy done! \r\n",
}

// deploy writes the program and plays the deployment progress sequence.
func (s *Supervisor) deploy(ctx context.Context, cmd *types.Command) int {
	if err := os.WriteFile(filepath.Join(s.cfg.WorkDir, "main.py"), []byte(cmd.Code), 0644); err != nil {
		log.Printf("supervisor: deploy: write main.py: %v", err)
	}

	for i, step := range deploySteps {
		if i > 0 {
			if err := sleep(ctx, s.stepDelay(i-1)); err != nil {
				return StatusOK
			}
		}
		s.emit(ctx, EventReply, types.DeployReply{
			Token:       deployToken,
			RequestFrom: cmd.RequestFrom,
			Cmd:         cmd.Cmd,
			Data:        "",
			Result:      step,
			IsFinish:    i == len(deploySteps)-1,
		})
	}
	return StatusOK
}

func (s *Supervisor) stepDelay(i int) time.Duration {
	if i < len(s.cfg.DeployStepDelays) {
		return s.cfg.DeployStepDelays[i]
	}
	return 0
}
