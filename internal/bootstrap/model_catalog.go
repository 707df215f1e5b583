package bootstrap

import (
	"video-extender/internal/domain"
	"video-extender/internal/residency"
)

const mib = domain.GiB / 1024

// ModelComponent describes one model the scheduler swaps through the device.
type ModelComponent struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// modelCatalog lists the five components with 8-bit weight size estimates.
var modelCatalog = []ModelComponent{
	{
		Name:        residency.ModelTextEncoder,
		Description: "Decoder-only language model producing prompt token vectors.",
		SizeBytes:   7680 * mib,
	},
	{
		Name:        residency.ModelTextEncoder2,
		Description: "CLIP text model producing the pooled prompt vector.",
		SizeBytes:   240 * mib,
	},
	{
		Name:        residency.ModelImageEncoder,
		Description: "SigLIP vision encoder embedding the start image.",
		SizeBytes:   860 * mib,
	},
	{
		Name:        residency.ModelVAE,
		Description: "Causal video autoencoder for latent encode and decode.",
		SizeBytes:   480 * mib,
	},
	{
		Name:        residency.ModelTransformer,
		Description: "Packed-context video diffusion transformer.",
		SizeBytes:   12800 * mib,
	},
}

// ModelCatalog returns a copy of the model components in registration order.
func ModelCatalog() []ModelComponent {
	out := make([]ModelComponent, len(modelCatalog))
	copy(out, modelCatalog)
	return out
}

// registerModels hands every catalog component to the residency manager.
func registerModels(m *residency.Manager) error {
	models := make([]residency.Model, 0, len(modelCatalog))
	for _, c := range modelCatalog {
		models = append(models, residency.StaticModel{ModelName: c.Name, Bytes: c.SizeBytes})
	}
	return m.Register(models...)
}

// ModelPlacements reports where each registered model currently lives.
func (a *App) ModelPlacements() []residency.Placement {
	if a.Residency == nil {
		return nil
	}
	return a.Residency.Snapshot()
}
