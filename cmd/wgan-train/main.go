package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/tsawler/go-wgan/checkpoints"
	"github.com/tsawler/go-wgan/layers"
	"github.com/tsawler/go-wgan/training"
)

var (
	configPath     string
	epochs         int
	samples        int
	hiddenSize     int
	checkpointPath string
)

func main() {
	root := &cobra.Command{
		Use:   "wgan-train",
		Short: "Train a Wasserstein GAN on an in-memory image dataset",
		Long: `wgan-train builds an MLP generator/critic pair from a YAML configuration
and runs adversarial training. The critic update variant (standard, weight
clipping, or gradient penalty) is selected by the configuration's loss and
wasserstein_type fields.`,
		RunE: run,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the trainer configuration")
	root.Flags().IntVarP(&epochs, "epochs", "e", 10, "number of training epochs")
	root.Flags().IntVarP(&samples, "samples", "n", 1024, "number of synthetic samples when no dataset is supplied")
	root.Flags().IntVar(&hiddenSize, "hidden", 256, "hidden layer width for both networks")
	root.Flags().StringVarP(&checkpointPath, "checkpoint", "o", "", "write a checkpoint here after training")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "wgan-train")

	cfg, err := training.LoadGANConfig(configPath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"loss":     cfg.Loss.String(),
		"n_critic": cfg.NCritic,
	}).Info("configuration loaded")

	features := cfg.ImageHeight * cfg.ImageWidth * cfg.ImageChannels

	genSpec := layers.NewModelSpec("generator",
		layers.NewDense("hidden_1", cfg.LatentDim, hiddenSize),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("hidden_2", hiddenSize, hiddenSize),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("output", hiddenSize, features),
		layers.NewTanh(),
		layers.NewReshape(cfg.ImageShape()...),
	)
	criticSpec := layers.NewModelSpec("critic",
		layers.NewFlatten(),
		layers.NewDense("hidden_1", features, hiddenSize),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("hidden_2", hiddenSize, hiddenSize),
		layers.NewLeakyReLU(0.2),
		layers.NewDense("score", hiddenSize, 1),
	)

	trainer, err := training.NewGANTrainer(cfg, genSpec, criticSpec)
	if err != nil {
		return err
	}

	dataset, err := syntheticDataset(cfg, samples)
	if err != nil {
		return err
	}
	loader, err := training.NewDataLoader(dataset, cfg.DiscriminatorBatchSize(), true, int64(cfg.Seed))
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"samples":    dataset.Len(),
		"batch_size": cfg.DiscriminatorBatchSize(),
		"epochs":     epochs,
	}).Info("starting training")

	if err := trainer.Train(loader, epochs); err != nil {
		return err
	}

	if checkpointPath != "" {
		state := checkpoints.TrainingState{
			Epoch:             epochs,
			DiscriminatorLoss: trainer.DiscriminatorLoss(),
			GeneratorLoss:     trainer.GeneratorLoss(),
		}
		if err := checkpoints.SaveCheckpoint(checkpointPath, trainer.Generator(), trainer.Critic(), state); err != nil {
			return err
		}
		log.WithField("path", checkpointPath).Info("checkpoint written")
	}
	return nil
}

// syntheticDataset builds a stand-in dataset of smooth Gaussian noise in
// [-1, 1], matching the generator's tanh output range
func syntheticDataset(cfg *training.GANConfig, n int) (*training.TensorDataset, error) {
	if n < cfg.DiscriminatorBatchSize() {
		return nil, fmt.Errorf("need at least %d samples, got %d", cfg.DiscriminatorBatchSize(), n)
	}
	size := cfg.ImageHeight * cfg.ImageWidth * cfg.ImageChannels
	dist := distuv.Normal{Mu: 0, Sigma: 0.5, Src: rand.NewSource(cfg.Seed)}

	backing := make([]float32, n*size)
	for i := range backing {
		v := dist.Rand()
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		backing[i] = float32(v)
	}
	data := tensor.New(
		tensor.WithShape(n, cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels),
		tensor.WithBacking(backing),
	)
	return training.NewTensorDataset(data)
}
