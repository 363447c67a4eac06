package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/yooozz3/target-assign-rl/internal/config"
	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/eval"
	"github.com/yooozz3/target-assign-rl/internal/policy"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	policyName := flag.String("policy", "greedy", "policy: "+strings.Join(policy.DefaultRegistry().Names(), ", "))
	fixturePath := flag.String("fixture", "", "path to scenario fixture JSON (fixture mode)")
	episodes := flag.Int("episodes", 100, "generated episodes (episode mode)")
	checkpoint := flag.String("checkpoint", "", "iql checkpoint to evaluate")
	minMatch := flag.Float64("min-match", 1.0, "minimum plan match rate to pass")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	exitCode, err := run(*configPath, *policyName, *fixturePath, *episodes, *checkpoint, *minMatch, *jsonOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region run

func run(configPath, policyName, fixturePath string, episodes int, checkpoint string, minMatch float64, jsonOut bool) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return 1, err
	}

	var fixture *eval.Fixture
	if fixturePath != "" {
		fixture, err = eval.LoadFixture(fixturePath)
		if err != nil {
			return 1, err
		}
		cfg.Planner.NumThreats = fixture.NumThreats
		cfg.Planner.NumDrones = &fixture.NumDrones
	}

	opts := cfg.PolicyOptions()
	opts.Checkpoint = checkpoint
	p, err := policy.DefaultRegistry().New(policyName, opts)
	if err != nil {
		return 1, err
	}
	if closer, ok := p.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	evalCfg := eval.DefaultEvalConfig()
	evalCfg.Episodes = episodes
	evalCfg.MinMatchRate = minMatch
	evalCfg.MaxTruncationRate = 1 - minMatch
	h := eval.NewEvalHarness(evalCfg)

	var result eval.EvalResult
	if fixture != nil {
		result, err = h.RunFixture(p, fixture)
	} else {
		var e *env.Env
		e, err = env.New(cfg.Env())
		if err != nil {
			return 1, err
		}
		result, err = h.Run(p, e)
	}
	if err != nil {
		return 1, err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return 1, err
		}
	} else {
		printResult(policyName, result, fixture != nil)
	}
	if !result.Passed {
		return 1, nil
	}
	return 0, nil
}

// #endregion run

// #region output

func printResult(policyName string, r eval.EvalResult, perScenario bool) {
	if perScenario {
		fmt.Printf("%-20s  %-6s  %7s  %s\n", "Scenario", "Result", "Reward", "Detail")
		fmt.Printf("%-20s+-%-6s+-%7s+-%s\n", "--------------------", "------", "-------", "--------------------")
		for _, o := range r.Episodes {
			status := "PASS"
			if !o.Passed {
				status = "FAIL"
			}
			fmt.Printf("%-20s  %-6s  %7.1f  %s\n", o.Name, status, o.Reward, o.Reason)
		}
		fmt.Println()
	}

	fmt.Println("=== Evaluation Summary ===")
	fmt.Printf("Policy:   %s\n", policyName)
	fmt.Printf("Episodes: %d\n", len(r.Episodes))
	for _, m := range r.Metrics {
		mark := "ok"
		if !m.Pass {
			mark = "FAIL"
		}
		fmt.Printf("%-16s %10.4f  %s\n", m.Name+":", m.Value, mark)
	}
	fmt.Printf("Result:   %s\n", r.Reason)
}

// #endregion output
