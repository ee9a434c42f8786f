// Package scan runs every detector layer over one input and fuses the
// results into a report and a four-layer sentinel result.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/af-corp/sentinel-gate/internal/codeanalysis"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/extract"
	"github.com/af-corp/sentinel-gate/internal/fusion"
	"github.com/af-corp/sentinel-gate/internal/mlscore"
	"github.com/af-corp/sentinel-gate/internal/pattern"
	"github.com/af-corp/sentinel-gate/internal/semantic"
	"github.com/af-corp/sentinel-gate/internal/similarity"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
	"github.com/af-corp/sentinel-gate/internal/tracer"
	"github.com/af-corp/sentinel-gate/internal/types"
	"github.com/af-corp/sentinel-gate/internal/validator"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid scan request")

const segmentSeparator = "\n---\n"

// Deps are the optional detector layers. Nil members are skipped.
type Deps struct {
	Pattern    *pattern.Detector
	Semantic   *semantic.Adapter
	Similarity *similarity.Detector
	Runtime    *tracer.Runner
	ML         *mlscore.Client
	Validator  *validator.Validator
	Fusion     *fusion.Engine
	Metrics    *telemetry.Metrics
}

// Service is the scan entry point shared by the HTTP API, the CLI and the
// workflow guard.
type Service struct {
	cfg    func() config.ScanConfig
	deps   Deps
	cache  *Cache
	logger *slog.Logger
}

func NewService(cfg func() config.ScanConfig, deps Deps, logger *slog.Logger) *Service {
	c := cfg()
	var cache *Cache
	if c.EnableCache {
		cache = NewCache(c.CacheMaxEntries, c.CacheTTL)
	}
	if deps.Pattern == nil {
		deps.Pattern = pattern.NewDetector(func() int { return cfg().MaxParallelChecks })
	}
	if deps.Fusion == nil {
		deps.Fusion = fusion.NewEngine(func() config.FusionConfig { return config.DefaultConfig().Fusion })
	}
	return &Service{cfg: cfg, deps: deps, cache: cache, logger: logger}
}

// Similarity exposes the similarity detector for index maintenance.
func (s *Service) Similarity() *similarity.Detector { return s.deps.Similarity }

// Scan runs all layers over req. The validator (L3) is consulted once,
// without a running summary; use ScanWithSession inside an execution.
func (s *Service) Scan(ctx context.Context, req Request) (Report, error) {
	return s.ScanWithSession(ctx, req, nil)
}

// ScanWithSession is Scan with L3 driven by an execution's validator
// session. L1, semantic and L2 come from the cache when possible; L3 is
// never cached.
func (s *Service) ScanWithSession(ctx context.Context, req Request, session *validator.Session) (Report, error) {
	if _, ok := types.ParseDirection(string(req.Direction)); !ok {
		return Report{}, fmt.Errorf("%w: direction must be prompt or output, got %q", ErrInvalidRequest, req.Direction)
	}
	switch req.Kind {
	case codeanalysis.KindAuto, codeanalysis.KindCode, codeanalysis.KindText:
	default:
		return Report{}, fmt.Errorf("%w: kind must be code or text, got %q", ErrInvalidRequest, req.Kind)
	}

	cfg := s.cfg()
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "scan",
		attribute.String("direction", string(req.Direction)),
		attribute.String("filename", req.Filename),
	)
	defer span.End()

	text := truncate(req.Text, cfg.MaxLen)
	key := CacheKey(string(req.Direction), req.Filename, text, req.Kind)

	var rep Report
	cached := false
	if s.cache != nil {
		rep, cached = s.cache.Get(key)
		s.deps.Metrics.RecordCache(cached)
	}
	if !cached {
		rep = s.run(ctx, cfg, req, text, start)
		if s.cache != nil {
			s.cache.Put(key, rep)
		}
	}

	if text != "" {
		rep.SentinelResult.L3 = s.validate(ctx, text, session)
	}

	span.SetAttributes(
		attribute.String("label", string(rep.Label)),
		attribute.Bool("flagged", rep.Blocking()),
		attribute.Bool("cached", cached),
	)
	s.deps.Metrics.RecordScan(telemetry.ScanLabels{
		Direction:  string(req.Direction),
		Label:      string(rep.Label),
		Flagged:    rep.Blocking(),
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	})
	return rep, nil
}

func (s *Service) validate(ctx context.Context, text string, session *validator.Session) types.LayerResult {
	if session != nil {
		return session.Validate(ctx, text).Layer()
	}
	return s.deps.Validator.Validate(ctx, text).Layer()
}

// layerOutputs collects what each concurrently running layer produced.
type layerOutputs struct {
	findings []types.Finding
	semantic *types.Finding
	static   *codeanalysis.Analysis
	sim      *similarity.Result
	runtime  *tracer.Report
	ml       *mlscore.Result
}

func (s *Service) run(ctx context.Context, cfg config.ScanConfig, req Request, text string, start time.Time) Report {
	if strings.TrimSpace(text) == "" {
		return cleanReport(text, start)
	}

	segments := extract.Segments(text, req.Filename)
	code, isCode := codeanalysis.Candidate(text, req.Filename, req.Kind)
	enabled := pattern.EnabledCategories(cfg.Categories)

	layerCtx := ctx
	if cfg.LayerTimeout > 0 {
		var cancel context.CancelFunc
		layerCtx, cancel = context.WithTimeout(ctx, cfg.LayerTimeout)
		defer cancel()
	}

	var out layerOutputs
	g := new(errgroup.Group)
	g.SetLimit(max(cfg.MaxParallelLayers, 1))

	s.layer(layerCtx, g, "pattern", func(ctx context.Context) error {
		out.findings = s.deps.Pattern.Check(ctx, segments, enabled)
		return nil
	})
	if s.deps.Semantic.Configured() && len(segments) > 0 {
		hint := semantic.Hint{
			Level:      types.Level(cfg.Level),
			Categories: enabled,
			Direction:  req.Direction,
			Focus:      semantic.FocusCodeCommentsAndStrings,
		}
		s.layer(layerCtx, g, "semantic", func(ctx context.Context) error {
			out.semantic = s.deps.Semantic.Classify(ctx, strings.Join(segments, segmentSeparator), hint)
			if out.semantic == nil {
				s.deps.Metrics.RecordDependencyUnavailable("semantic")
			}
			return nil
		})
	}
	if isCode {
		s.layer(layerCtx, g, "static", func(context.Context) error {
			a := codeanalysis.Analyze(code)
			out.static = &a
			return nil
		})
		if s.deps.Similarity != nil {
			s.layer(layerCtx, g, "similarity", func(ctx context.Context) error {
				res, err := s.deps.Similarity.Query(ctx, code)
				if err != nil {
					return err
				}
				out.sim = &res
				return nil
			})
		}
		if s.deps.Runtime != nil && s.deps.Runtime.Enabled() {
			s.layer(layerCtx, g, "runtime", func(ctx context.Context) error {
				rep, err := s.deps.Runtime.Analyze(ctx, code)
				if err != nil {
					return err
				}
				out.runtime = &rep
				return nil
			})
		}
		if s.deps.ML.Enabled() {
			s.layer(layerCtx, g, "ml", func(ctx context.Context) error {
				if res, ok := s.deps.ML.Score(ctx, code); ok {
					out.ml = &res
				} else {
					s.deps.Metrics.RecordDependencyUnavailable("ml")
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	return s.assemble(cfg, text, isCode, out, start)
}

// layer runs fn on g inside its own span. Layer errors are logged and the
// layer treated as absent; they never fail the scan.
func (s *Service) layer(ctx context.Context, g *errgroup.Group, name string, fn func(context.Context) error) {
	g.Go(func() error {
		lctx, span := telemetry.StartSpan(ctx, "scan.layer", attribute.String("layer", name))
		t0 := time.Now()
		err := fn(lctx)
		s.deps.Metrics.RecordLayer(name, float64(time.Since(t0).Microseconds())/1000)
		telemetry.EndSpan(span, err)
		if err != nil {
			s.logger.Warn("scan layer failed", "layer", name, "error", err)
		}
		return nil
	})
}

func (s *Service) assemble(cfg config.ScanConfig, text string, isCode bool, out layerOutputs, start time.Time) Report {
	verdict := fusion.Verdict{Label: fusion.LabelClean, Scores: map[string]float64{}}
	if isCode {
		verdict = s.deps.Fusion.Fuse(fusionInput(out))
	}

	sr := emptySentinel()
	auth := pattern.Authoritative(out.findings)
	if auth != nil {
		sr.L1 = types.LayerResult{Flagged: true, Reason: auth.Reason, Category: auth.Risk()}
	}
	if out.semantic != nil {
		sr.Semantic = types.LayerResult{Flagged: out.semantic.Flagged, Reason: out.semantic.Reason, Category: types.RiskLow}
		if out.semantic.Flagged {
			sr.Semantic.Category = types.RiskHigh
		}
	} else {
		sr.Semantic.Reason = "semantic classifier unavailable"
	}
	if isCode && verdict.Label.Flagged() {
		sr.L2 = types.LayerResult{Flagged: true, Reason: l2Reason(verdict), Category: verdict.Label.Risk()}
	}

	var primary types.Finding
	switch {
	case auth != nil:
		primary = *auth
	case out.semantic != nil && out.semantic.Flagged:
		primary = *out.semantic
	case verdict.Label.Flagged():
		layer, score := verdict.TopLayer()
		primary = types.Finding{
			Flagged:         true,
			Categories:      []types.Category{types.CategoryUnsafeCode},
			Reason:          l2Reason(verdict),
			Confidence:      types.Float(max(score, verdict.Fused)),
			DetectionMethod: "fusion:" + layer,
		}
	default:
		primary = types.Finding{Categories: []types.Category{}}
	}
	if primary.ContentPreview == "" {
		primary.ContentPreview = types.Preview(text)
	}
	primary.Actions = fusion.Actions(cfg.Actions, primary.Categories, verdict.Label)

	findings := slices.Clone(out.findings)
	if cfg.RedactPreviews && hasSecrets(primary, findings) {
		primary.ContentPreview = Redact(primary.ContentPreview)
		for i := range findings {
			findings[i].ContentPreview = Redact(findings[i].ContentPreview)
		}
	}
	for _, f := range findings {
		for _, c := range f.Categories {
			s.deps.Metrics.RecordFinding(string(c), f.DetectionMethod)
		}
	}
	primary.ProcessingMs = float64(time.Since(start).Microseconds()) / 1000

	rep := Report{
		Finding:        primary,
		Label:          verdict.Label,
		FusedScore:     verdict.Fused,
		Scores:         verdict.Scores,
		FusionRule:     verdict.Rule,
		SentinelResult: sr,
		Findings:       findings,
		Semantic:       out.semantic,
		Static:         out.static,
		Similarity:     out.sim,
		Runtime:        out.runtime,
	}
	if out.ml != nil {
		rep.ML = types.Float(out.ml.Probability)
	}
	return rep
}

// fusionInput maps the layers that ran onto fusion scores; layers that did
// not run stay absent.
func fusionInput(out layerOutputs) fusion.Input {
	in := fusion.Input{Scores: map[string]float64{}, Findings: out.findings}
	if out.static != nil {
		in.Scores[fusion.ScoreAST] = out.static.ASTScore
		in.Scores[fusion.ScoreSubproc] = out.static.SubprocScore
		in.Escalate = out.static.Escalate
		in.Reasons = append(in.Reasons, out.static.Reasons()...)
	}
	if out.sim != nil {
		in.Scores[fusion.ScoreEmbed] = out.sim.Score
		for _, h := range out.sim.Hits {
			in.Reasons = append(in.Reasons, fmt.Sprintf("similar to known snippet %s (%.2f)", h.Name, h.Similarity))
		}
	}
	if out.runtime != nil {
		in.Scores[fusion.ScoreRuntime] = out.runtime.Score
		if out.runtime.TimedOut {
			in.Reasons = append(in.Reasons, "runtime trace timed out")
		}
		for _, f := range out.runtime.Findings {
			in.Reasons = append(in.Reasons, "runtime "+f.Kind+" "+f.Name)
		}
	}
	if out.ml != nil {
		in.Scores[fusion.ScoreML] = out.ml.Score
	}
	if sc, ok := semantic.Score(out.semantic); ok {
		in.Scores[fusion.ScoreSemantic] = sc
	}
	return in
}

func l2Reason(v fusion.Verdict) string {
	reason := string(v.Label) + " (" + v.Rule + ")"
	if len(v.Reasons) > 0 {
		reason += ": " + strings.Join(dedupe(v.Reasons), "; ")
	}
	return reason
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func hasSecrets(primary types.Finding, findings []types.Finding) bool {
	if slices.Contains(primary.Categories, types.CategorySecrets) {
		return true
	}
	for _, f := range findings {
		if slices.Contains(f.Categories, types.CategorySecrets) {
			return true
		}
	}
	return false
}

func cleanReport(text string, start time.Time) Report {
	return Report{
		Finding: types.Finding{
			ContentPreview: types.Preview(text),
			Categories:     []types.Category{},
			Actions:        []string{},
			ProcessingMs:   float64(time.Since(start).Microseconds()) / 1000,
		},
		Label:          fusion.LabelClean,
		Scores:         map[string]float64{},
		SentinelResult: emptySentinel(),
	}
}

func emptySentinel() types.SentinelResult {
	low := types.LayerResult{Category: types.RiskLow}
	return types.SentinelResult{L1: low, Semantic: low, L2: low, L3: low}
}

// truncate cuts text to at most n runes; n <= 0 disables the limit.
func truncate(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
