package pricing

import "time"

// builtInPricing returns the prices shipped with the binary.
func builtInPricing() *PricingConfig {
	effectiveDate := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	anthropic := func(model string, in, out float64) ModelPricing {
		return ModelPricing{
			Provider:                     "anthropic",
			Model:                        model,
			InputPricePerMillion:         in,
			OutputPricePerMillion:        out,
			CacheCreationPricePerMillion: in * 1.25,
			CacheReadPricePerMillion:     in * 0.1,
			EffectiveDate:                effectiveDate,
		}
	}
	openai := func(model string, in, out float64) ModelPricing {
		return ModelPricing{
			Provider:              "openai",
			Model:                 model,
			InputPricePerMillion:  in,
			OutputPricePerMillion: out,
			EffectiveDate:         effectiveDate,
		}
	}
	local := func(model string) ModelPricing {
		return ModelPricing{
			Provider:       "ollama",
			Model:          model,
			IsSubscription: true,
			EffectiveDate:  effectiveDate,
		}
	}

	return &PricingConfig{
		Version:   "1.0",
		UpdatedAt: effectiveDate,
		Models: []ModelPricing{
			anthropic("claude-opus-4", 15.00, 75.00),
			anthropic("claude-opus-4-5", 5.00, 25.00),
			anthropic("claude-sonnet-4", 3.00, 15.00),
			anthropic("claude-haiku-4-5", 1.00, 5.00),
			anthropic("claude-3-5-sonnet", 3.00, 15.00),
			anthropic("claude-3-5-haiku", 0.80, 4.00),
			anthropic("claude-3-opus", 15.00, 75.00),
			anthropic("claude-3-haiku", 0.25, 1.25),

			openai("gpt-4o", 2.50, 10.00),
			openai("gpt-4o-mini", 0.15, 0.60),
			openai("gpt-4.1", 2.00, 8.00),
			openai("gpt-4.1-mini", 0.40, 1.60),
			openai("gpt-4-turbo", 10.00, 30.00),
			openai("gpt-3.5-turbo", 0.50, 1.50),
			openai("o1", 15.00, 60.00),
			openai("o3-mini", 1.10, 4.40),

			local("llama3"),
			local("mistral"),
			local("mixtral"),
		},
	}
}
