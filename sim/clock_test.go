package sim

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Clock", func() {
	It("should notify the positive edge every period", func() {
		k := testBuilder().WithMaxTime(VTime(4 * NS)).Build()

		clk, err := NewClock(k, "clk", 1*GHz)
		Expect(err).NotTo(HaveOccurred())
		Expect(clk.Posedge().Name()).To(Equal("clk.posedge"))
		Expect(clk.Freq()).To(Equal(1 * GHz))

		var edges []string
		_, err = k.SpawnMethod("counter", func(p *Process) {
			edges = append(edges, p.Now().String())
		}, SensitiveTo(clk.Posedge()), DontInitialize())
		Expect(err).NotTo(HaveOccurred())

		Expect(k.Run(context.Background())).To(Succeed())
		Expect(edges).To(Equal([]string{"0 s", "1 ns", "2 ns", "3 ns", "4 ns"}))
		Expect(clk.Cycles()).To(Equal(uint64(5)))
		Expect(clk.Process().State()).To(Equal(ProcessSuspended))
		Expect(k.StopReason()).To(Equal(StopMaxTime))
	})

	It("should reject a non-positive frequency", func() {
		_, err := NewClock(NewKernel(), "clk", 0)
		Expect(err).To(HaveOccurred())
	})
})
