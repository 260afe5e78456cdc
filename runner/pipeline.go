package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-to-transcripts/classify"
	"github.com/dhcgn/mbox-to-transcripts/conversation"
	"github.com/dhcgn/mbox-to-transcripts/filter"
	"github.com/dhcgn/mbox-to-transcripts/mbox"
	"github.com/dhcgn/mbox-to-transcripts/model"
	"github.com/dhcgn/mbox-to-transcripts/namemap"
	"github.com/dhcgn/mbox-to-transcripts/normalize"
	"github.com/dhcgn/mbox-to-transcripts/progress"
	"github.com/dhcgn/mbox-to-transcripts/render"
	"github.com/dhcgn/mbox-to-transcripts/resequence"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

const (
	StageNameClassify   = "classify"
	StageNameSplit      = "split"
	StageNameNormalize  = "normalize"
	StageNameSeal       = "seal"
	StageNameAnalyze    = "analyze"
	StageNameNameMap    = "namemap"
	StageNameRender     = "render"
	StageNameResequence = "resequence"
)

// Pipeline turns a mail archive into per-person chat transcripts.
type Pipeline struct {
	runner     *Runner
	classifier *classify.Classifier
	bar        *progress.Bar

	addresses      *model.AddressTable
	convs          []model.Conversation
	names          *namemap.NameMap
	nameMapCreated bool
	findings       []conversation.Finding
}

// NewPipeline registers every stage of the conversion on r.
func NewPipeline(r *Runner, bar *progress.Bar) (*Pipeline, error) {
	cfg := r.Config()
	f, err := filter.New(filter.Options{IncludeHeader: cfg.IncludeHeader, ExcludeHeader: cfg.ExcludeHeader})
	if err != nil {
		return nil, fmt.Errorf("header filter: %w", err)
	}

	p := &Pipeline{
		runner:     r,
		classifier: classify.New(classify.Options{ChatLabel: cfg.ChatLabel, Filter: f}, r, r.Logger()),
		bar:        bar,
		addresses:  model.NewAddressTable(),
	}

	paths := cfg.Paths()
	r.AddStage(StageNameClassify, p.classify, paths.ChatsAll)
	r.AddStage(StageNameSplit, p.split, paths.ChatsOld, paths.ChatsNew)
	r.AddStage(StageNameNormalize, p.normalize, paths.XMLDir)
	r.AddAlwaysStage(StageNameSeal, p.seal)
	if cfg.Analyze {
		r.AddAlwaysStage(StageNameAnalyze, p.analyze)
	}
	r.AddAlwaysStage(StageNameNameMap, p.nameMap)
	r.AddAlwaysStage(StageNameRender, p.render)
	r.AddAlwaysStage(StageNameResequence, p.resequence)
	return p, nil
}

// NameMapCreated reports whether this run wrote a new name map.
func (p *Pipeline) NameMapCreated() bool {
	return p.nameMapCreated
}

// Findings returns the out-of-order timestamps found by the analyze stage.
func (p *Pipeline) Findings() []conversation.Finding {
	return p.findings
}

func (p *Pipeline) classify(ctx context.Context) error {
	cfg := p.runner.Config()
	if p.bar != nil {
		total, err := mbox.CountMessages(cfg.MboxPath)
		if err != nil {
			p.runner.Logger().Warn("could not count archive records", "err", err)
		} else {
			p.bar.Start(total, "Scanning archive")
		}
	}
	_, err := p.classifier.ExtractChats(ctx, cfg.MboxPath, cfg.Paths().ChatsAll)
	if p.bar != nil {
		p.bar.Stop()
	}
	return err
}

func (p *Pipeline) split(ctx context.Context) error {
	paths := p.runner.Config().Paths()
	_, err := p.classifier.SplitFormats(ctx, paths.ChatsAll, paths.ChatsOld, paths.ChatsNew)
	return err
}

func (p *Pipeline) normalize(ctx context.Context) error {
	r := p.runner
	paths := r.Config().Paths()

	// the logs are rebuilt from scratch, so their seal markers are stale
	if err := r.Tracker().Forget(conversation.SealKeyPrefix); err != nil {
		return fmt.Errorf("invalidate seals: %w", err)
	}

	assembler, err := conversation.NewAssembler(paths.XMLDir, r, r.Logger())
	if err != nil {
		return err
	}

	r.Logger().Info("normalizing old-format chats", "path", paths.ChatsOld)
	oldCounts, err := normalize.NewOldFormat(assembler, p.addresses, r, r.Logger()).Run(ctx, paths.ChatsOld)
	if err != nil {
		return err
	}
	r.Logger().Info("normalizing new-format chats", "path", paths.ChatsNew)
	newCounts, err := normalize.NewNewFormat(assembler, p.addresses, r, r.Logger()).Run(ctx, paths.ChatsNew)
	if err != nil {
		return err
	}

	total := oldCounts
	total.Add(newCounts)
	r.Logger().Info("chats normalized", append(total.LogAttrs(), "threads", assembler.Threads())...)
	return nil
}

func (p *Pipeline) seal(_ context.Context) error {
	r := p.runner
	assembler, err := conversation.NewAssembler(r.Config().Paths().XMLDir, r, r.Logger())
	if err != nil {
		return err
	}
	_, err = assembler.SealAll(r.Tracker(), r.RunID())
	return err
}

func (p *Pipeline) conversations() ([]model.Conversation, error) {
	if p.convs != nil {
		return p.convs, nil
	}
	convs, err := conversation.LoadAll(p.runner.Config().Paths().XMLDir)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	p.convs = convs
	return convs, nil
}

func (p *Pipeline) analyze(_ context.Context) error {
	convs, err := p.conversations()
	if err != nil {
		return err
	}

	p.findings = conversation.FindOutOfOrder(convs)
	for _, f := range p.findings {
		p.runner.EmitEvent(stats.Event{Stage: stats.StageAnalyze, Type: stats.EventTypeOutOfOrder, ThreadID: f.Message.ThreadID, Detail: f.String()})
		pterm.Warning.Println(f.String())
	}
	p.runner.Logger().Info("conversation analysis complete", "conversations", len(convs), "outOfOrder", len(p.findings))
	return nil
}

func (p *Pipeline) nameMap(_ context.Context) error {
	r := p.runner
	path := r.Config().Paths().NameMap

	names, created, err := namemap.LoadOrCreate(path, func() (*model.AddressTable, error) {
		if r.Ran(StageNameNormalize) {
			return p.addresses, nil
		}
		convs, err := p.conversations()
		if err != nil {
			return nil, err
		}
		return conversation.Addresses(convs), nil
	})
	if errors.Is(err, namemap.ErrNoAddresses) {
		r.Logger().Warn("no chat addresses found, transcripts will show raw addresses")
		return nil
	}
	if err != nil {
		return err
	}

	p.names = names
	p.nameMapCreated = created
	r.Logger().Info("name map ready", "path", path, "created", created, "me", names.MyAddress, "addresses", len(names.AllAddresses))
	return nil
}

func (p *Pipeline) render(_ context.Context) error {
	cfg := p.runner.Config()
	convs, err := p.conversations()
	if err != nil {
		return err
	}
	renderer := render.New(render.Options{NoWrap: cfg.NoWrap, Location: cfg.Location}, p.names, p.runner, p.runner.Logger())
	_, err = renderer.RenderAll(convs, cfg.Paths().TextDir)
	return err
}

func (p *Pipeline) resequence(_ context.Context) error {
	_, err := resequence.New(p.runner, p.runner.Logger()).SortAll(p.runner.Config().Paths().TextDir)
	return err
}
