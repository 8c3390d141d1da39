package main

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/config"
	"github.com/born-ml/edgedl/internal/descriptor"
	"github.com/born-ml/edgedl/internal/model"
	"github.com/born-ml/edgedl/internal/module"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

const version = "v0.1.0-dev"

// NewCLI creates the edgedl command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "edgedl",
		Short:         "Quantized neural network runtime for dual-core targets",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newInspectCmd(),
		newRunCmd(),
		newDemoCmd(),
		newEnvCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edgedl %s\n", version)
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Show a model's inputs, outputs and operators",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Run a model on a scalar input",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}

	runCmd.Flags().Float64("input", math.Pi/2, "Value assigned to every element of the first input")
	runCmd.Flags().Bool("single-core", config.RuntimeMode() == parallel.ModeSingleCore, "Run every operator on one core")
	runCmd.Flags().Bool("copy-weights", false, "Copy weights out of the model file")

	return runCmd
}

func newDemoCmd() *cobra.Command {
	demoCmd := &cobra.Command{
		Use:   "demo OUT",
		Short: "Write a one-operator model computing y = x * weight",
		Args:  cobra.ExactArgs(1),
		RunE:  DemoHandler,
	}

	demoCmd.Flags().Float64("weight", 0.5, "Constant multiplier")
	demoCmd.Flags().Int("exponent", -6, "Exponent of the input, weight and output")
	demoCmd.Flags().Bool("int16", false, "Use 16-bit quantization instead of 8-bit")

	return demoCmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vars := config.AsMap()
			names := make([]string, 0, len(vars))
			for name := range vars {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				v := vars[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8v %s\n", v.Name, v.Value, v.Description)
			}
		},
	}
}

// InspectHandler prints a model summary.
func InspectHandler(cmd *cobra.Command, args []string) error {
	desc, err := descriptor.ReadFile(args[0], model.DefaultOptions().Reader)
	if err != nil {
		return err
	}
	m, err := model.Load(desc, model.DefaultOptions())
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "producer: %s\n", desc.Header.Producer)
	fmt.Fprintln(cmd.OutOrStdout(), "inputs:")
	for _, name := range m.InputNames() {
		t := m.Inputs()[name]
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s %v exponent=%d\n", name, t.DType(), t.Shape(), t.Exponent())
	}
	fmt.Fprintln(cmd.OutOrStdout(), "outputs:")
	for _, name := range m.OutputNames() {
		t := m.Outputs()[name]
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s %v exponent=%d\n", name, t.DType(), t.Shape(), t.Exponent())
	}
	fmt.Fprintln(cmd.OutOrStdout(), "modules:")
	for _, mod := range m.Modules() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", mod)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "arena: %d bytes\n", m.ArenaSize())
	return nil
}

// RunHandler fills the first input with a value, runs the model and prints
// the first output.
func RunHandler(cmd *cobra.Command, args []string) error {
	value, err := cmd.Flags().GetFloat64("input")
	if err != nil {
		return err
	}
	singleCore, err := cmd.Flags().GetBool("single-core")
	if err != nil {
		return err
	}
	copyWeights, err := cmd.Flags().GetBool("copy-weights")
	if err != nil {
		return err
	}

	opts := model.DefaultOptions()
	opts.CopyWeights = copyWeights
	m, err := model.LoadFile(args[0], opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if len(m.InputNames()) == 0 || len(m.OutputNames()) == 0 {
		return fmt.Errorf("model has %d inputs and %d outputs", len(m.InputNames()), len(m.OutputNames()))
	}
	inName, outName := m.InputNames()[0], m.OutputNames()[0]
	in := m.Inputs()[inName]
	out := m.Outputs()[outName]

	x, err := filledFloat(in.Shape(), value)
	if err != nil {
		return err
	}
	y, err := filledFloat(out.Shape(), 0)
	if err != nil {
		return err
	}

	mode := parallel.ModeAuto
	if singleCore {
		mode = parallel.ModeSingleCore
	}
	klog.V(1).InfoS("Running model", "model", args[0], "mode", mode)

	err = m.RunWith(context.Background(),
		map[string]*tensor.Tensor{inName: x}, mode,
		map[string]*tensor.Tensor{outName: y})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", inName, x.AsFloat32())
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", outName, y.AsFloat32())
	return nil
}

// DemoHandler writes the demo model.
func DemoHandler(cmd *cobra.Command, args []string) error {
	weight, err := cmd.Flags().GetFloat64("weight")
	if err != nil {
		return err
	}
	exponent, err := cmd.Flags().GetInt("exponent")
	if err != nil {
		return err
	}
	wide, err := cmd.Flags().GetBool("int16")
	if err != nil {
		return err
	}

	dt, qt := tensor.Int8, module.QuantSymm8Bit
	if wide {
		dt, qt = tensor.Int16, module.QuantSymm16Bit
	}

	w := descriptor.NewWriter("edgedl " + version)
	w.AddInput("x", dt, tensor.Shape{1, 1}, exponent)
	wt, err := tensor.New(tensor.Shape{1, 1}, dt, exponent)
	if err != nil {
		return err
	}
	c, err := filledFloat(tensor.Shape{1, 1}, weight)
	if err != nil {
		return err
	}
	if err := wt.Assign(c); err != nil {
		return err
	}
	if err := w.AddTensor("w", wt); err != nil {
		return err
	}
	w.AddNode(descriptor.Node{
		Name:       "mul_0",
		OpType:     "Mul",
		Inputs:     []string{"x", "w"},
		Outputs:    []string{"y"},
		Attributes: map[string]descriptor.Attribute{"quant_type": descriptor.IntAttr(int64(qt))},
	})
	w.AddOutput("y")
	w.SetExponent("y", exponent)
	w.SetMetadata("description", fmt.Sprintf("y = x * %g", weight))

	if err := w.WriteFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
	return nil
}

func filledFloat(shape tensor.Shape, v float64) (*tensor.Tensor, error) {
	values := make([]float32, shape.NumElements())
	for i := range values {
		values[i] = float32(v)
	}
	return tensor.FromFloat32(shape, values)
}
