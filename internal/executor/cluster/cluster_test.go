package cluster

import (
	"strings"
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
)

func TestRenderScript_IncludesSbatchDirectives(t *testing.T) {
	cfg := models.ClusterConfig{
		Partition:   "gpu",
		Account:     "team-a",
		Time:        "02:00:00",
		GPUs:        1,
		CPUsPerTask: 4,
		NodesPerJob: 1,
		Exclude:     []string{"node03"},
	}
	e := New(`./run.sh --lr=$lr`, t.TempDir(), cfg)

	script := e.renderScript("cluster-0", "/tmp/out.log", "/tmp/err.log", "./run.sh --lr=0.01")

	for _, want := range []string{
		"#SBATCH --partition=gpu",
		"#SBATCH --account=team-a",
		"#SBATCH --time=02:00:00",
		"#SBATCH --gres=gpu:1",
		"#SBATCH --cpus-per-task=4",
		"#SBATCH --nodes=1",
		"#SBATCH --exclude=node03",
		"./run.sh --lr=0.01",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("expected script to contain %q, got:\n%s", want, script)
		}
	}
}

func TestUpdateExcludedHosts_MergesIntoScript(t *testing.T) {
	e := New("./run.sh", t.TempDir(), models.ClusterConfig{})
	e.UpdateExcludedHosts([]string{"bad-node"})

	script := e.renderScript("cluster-1", "/tmp/out.log", "/tmp/err.log", "./run.sh")
	if !strings.Contains(script, "#SBATCH --exclude=bad-node") {
		t.Errorf("expected excluded host in script, got:\n%s", script)
	}
}
