package infra

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper é uma limpeza periódica de estado em memória. Sweep devolve quantos
// itens removeu.
type Sweeper struct {
	Name  string
	Every time.Duration
	Sweep func(now time.Time) int
}

// StartSweepers roda cada sweeper na sua goroutine até o ctx encerrar.
// Sweepers com intervalo não positivo são ignorados.
func StartSweepers(ctx context.Context, sweepers ...Sweeper) {
	for _, s := range sweepers {
		if s.Every <= 0 || s.Sweep == nil {
			continue
		}
		go s.run(ctx)
	}
}

func (s Sweeper) run(ctx context.Context) {
	t := time.NewTicker(s.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Sweep(now); n > 0 {
				log.Debug().Str("sweeper", s.Name).Int("removed", n).Msg("swept idle state")
			}
		}
	}
}
