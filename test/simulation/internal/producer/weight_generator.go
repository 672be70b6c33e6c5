package producer

// WeightGenerator assigns relative activity levels to chats.
type WeightGenerator interface {
	// GenerateWeights returns one weight per chat.
	GenerateWeights(chatCount int) []int64
}

// UniformWeightGenerator gives every chat the same activity.
type UniformWeightGenerator struct {
	weight int64
}

// NewUniformWeightGenerator creates a uniform generator.
func NewUniformWeightGenerator(weight int64) *UniformWeightGenerator {
	if weight <= 0 {
		weight = 1
	}

	return &UniformWeightGenerator{weight: weight}
}

// GenerateWeights implements WeightGenerator.
func (g *UniformWeightGenerator) GenerateWeights(chatCount int) []int64 {
	weights := make([]int64, chatCount)
	for i := range chatCount {
		weights[i] = g.weight
	}

	return weights
}

// ExponentialWeightGenerator makes a small share of chats far busier than the rest.
type ExponentialWeightGenerator struct {
	extremePercent float64
	extremeWeight  int64
	normalWeight   int64
}

// NewExponentialWeightGenerator creates a skewed generator.
//
// Parameters:
//   - extremePercent: Share of busy chats (0.0-1.0)
//   - extremeWeight: Weight of busy chats
//   - normalWeight: Weight of the remaining chats
//
// Returns:
//   - *ExponentialWeightGenerator: Initialized generator
func NewExponentialWeightGenerator(extremePercent float64, extremeWeight, normalWeight int64) *ExponentialWeightGenerator {
	if extremePercent <= 0 || extremePercent >= 1 {
		extremePercent = 0.05
	}
	if extremeWeight <= 0 {
		extremeWeight = 100
	}
	if normalWeight <= 0 {
		normalWeight = 1
	}

	return &ExponentialWeightGenerator{
		extremePercent: extremePercent,
		extremeWeight:  extremeWeight,
		normalWeight:   normalWeight,
	}
}

// GenerateWeights implements WeightGenerator. The busy chats come first.
func (g *ExponentialWeightGenerator) GenerateWeights(chatCount int) []int64 {
	weights := make([]int64, chatCount)
	extremeCount := int(float64(chatCount) * g.extremePercent)

	for i := range chatCount {
		if i < extremeCount {
			weights[i] = g.extremeWeight
		} else {
			weights[i] = g.normalWeight
		}
	}

	return weights
}
