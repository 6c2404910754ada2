package layers

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Weight is a named trainable tensor owned by a Network
type Weight struct {
	Name  string
	Value *tensor.Dense
}

// Network holds the compiled weights of a model. The weight backings are
// owned here and shared by every graph instance, so an in-place update made
// through one instance's nodes is visible to every other instance.
type Network struct {
	spec    *ModelSpec
	weights []*Weight
}

// Name returns the model name
func (n *Network) Name() string {
	return n.spec.Name
}

// Spec returns the model specification the network was compiled from
func (n *Network) Spec() *ModelSpec {
	return n.spec
}

// Weights returns the network's trainable tensors in layer order
func (n *Network) Weights() []*Weight {
	return n.weights
}

// Instance binds the network onto an expression graph. The returned instance
// creates one node per weight tensor, backed by the network's shared values,
// and can build any number of forward passes on that graph.
func (n *Network) Instance(g *gorgonia.ExprGraph) (*Instance, error) {
	if g == nil {
		return nil, errors.Errorf("[%s] cannot instantiate on a nil graph", n.spec.Name)
	}

	inst := &Instance{net: n}
	wi := 0
	for _, l := range n.spec.Layers {
		if l.Type != Dense {
			continue
		}
		if wi+1 >= len(n.weights) {
			return nil, errors.Errorf("[%s] weight count does not match spec", n.spec.Name)
		}
		kernel := n.weights[wi]
		bias := n.weights[wi+1]
		wi += 2

		kNode := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(kernel.Value.Shape()...),
			gorgonia.WithName(kernel.Name),
			gorgonia.WithValue(kernel.Value),
		)
		bNode := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(bias.Value.Shape()...),
			gorgonia.WithName(bias.Name),
			gorgonia.WithValue(bias.Value),
		)
		inst.kernels = append(inst.kernels, kNode)
		inst.biases = append(inst.biases, bNode)
		inst.learnables = append(inst.learnables, kNode, bNode)
	}
	return inst, nil
}

// Instance is a Network bound to one expression graph
type Instance struct {
	net        *Network
	kernels    []*gorgonia.Node
	biases     []*gorgonia.Node
	learnables gorgonia.Nodes
}

// Learnables returns the instance's trainable nodes, paired with the
// network's shared weight backings
func (inst *Instance) Learnables() gorgonia.Nodes {
	return inst.learnables
}

// Fwd builds the forward pass for input x and returns the output node.
// Fwd may be called multiple times on the same instance; each call shares
// the same weight nodes, so every resulting output depends on the same
// trainable parameters.
func (inst *Instance) Fwd(x *gorgonia.Node) (*gorgonia.Node, error) {
	out := x
	var err error
	di := 0

	for i, l := range inst.net.spec.Layers {
		switch l.Type {
		case Dense:
			out, err = inst.dense(out, di)
			di++
		case ReLU:
			out, err = gorgonia.Rectify(out)
		case LeakyReLU:
			out, err = gorgonia.LeakyRelu(out, l.Alpha)
		case Sigmoid:
			out, err = gorgonia.Sigmoid(out)
		case Tanh:
			out, err = gorgonia.Tanh(out)
		case Flatten:
			out, err = flatten(out)
		case Reshape:
			target := append([]int{out.Shape()[0]}, l.TargetShape...)
			out, err = gorgonia.Reshape(out, target)
		default:
			err = errors.Errorf("unsupported layer type %s", l.Type)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "[%s] layer %d (%s)", inst.net.spec.Name, i, l.Type)
		}
	}
	return out, nil
}

func (inst *Instance) dense(x *gorgonia.Node, idx int) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, inst.kernels[idx])
	if err != nil {
		return nil, errors.Wrap(err, "matmul")
	}
	out, err := gorgonia.BroadcastAdd(xw, inst.biases[idx], nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "bias add")
	}
	return out, nil
}

func flatten(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) == 2 {
		return x, nil
	}
	features := 1
	for _, d := range shape[1:] {
		features *= d
	}
	return gorgonia.Reshape(x, []int{shape[0], features})
}
