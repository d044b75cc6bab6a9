package sim

import (
	"bytes"
	"context"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ActivationLogger", func() {
	It("should log activations and firings", func() {
		var buf bytes.Buffer
		logger := NewActivationLogger(log.New(&buf, "", 0))

		k := testBuilder().WithHook(logger).Build()
		e, err := k.NewEvent("E")
		Expect(err).NotTo(HaveOccurred())

		_, err = k.Spawn("p", func(p *Process) {
			must(p.WaitFor(NS))
			must(p.Notify(e))
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(k.Run(context.Background())).To(Succeed())
		Expect(buf.String()).To(Equal(
			"0 s, 0, thread -> p\n" +
				"1 ns, 0, thread -> p\n" +
				"1 ns, 0, fire E x1 woke 0\n"))
	})
})
