package session

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/docscan/internal/imaging"
	"github.com/zombor/docscan/internal/scanning"
)

var _ = Describe("Controller", func() {
	var (
		controller *Controller
		service    *mockService
		host       *mockHost
		processor  *mockProcessor
		recorder   *mockRecorder
		now        time.Time
		req        Request
	)

	BeforeEach(func() {
		service = &mockService{}
		host = &mockHost{}
		processor = &mockProcessor{}
		recorder = &mockRecorder{}
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		req = Request{ResponseType: ptr("base64")}
	})

	JustBeforeEach(func() {
		controller = NewControllerWithDeps(service, host, processor, recorder, &sequenceIDs{}, fixedClock{t: now})
	})

	It("should start idle", func() {
		Expect(controller.State()).To(Equal(StateIdle))
		_, ok := controller.Pending()
		Expect(ok).To(BeFalse())
	})

	Describe("StartScan", func() {
		When("no scanning service is available", func() {
			JustBeforeEach(func() {
				controller = NewControllerWithDeps(nil, host, processor, recorder, &sequenceIDs{}, fixedClock{t: now})
			})

			It("returns ErrNotReady without creating a session", func() {
				_, err := controller.StartScan(context.Background(), req)
				Expect(err).To(MatchError(ErrNotReady))
				Expect(controller.State()).To(Equal(StateIdle))
				_, ok := controller.Pending()
				Expect(ok).To(BeFalse())
			})
		})

		When("no host environment is available", func() {
			JustBeforeEach(func() {
				controller = NewControllerWithDeps(service, nil, processor, recorder, &sequenceIDs{}, fixedClock{t: now})
			})

			It("returns ErrEnvironmentUnavailable without starting a scan", func() {
				_, err := controller.StartScan(context.Background(), req)
				Expect(err).To(MatchError(ErrEnvironmentUnavailable))
				Expect(service.calls).To(BeEmpty())
				Expect(controller.State()).To(Equal(StateIdle))
			})
		})

		When("the scanning service refuses to start", func() {
			BeforeEach(func() {
				service.err = errBoom
			})

			It("returns a StartError and returns to idle", func() {
				_, err := controller.StartScan(context.Background(), req)
				var startErr *StartError
				Expect(errors.As(err, &startErr)).To(BeTrue())
				Expect(err).To(MatchError(errBoom))
				Expect(controller.State()).To(Equal(StateIdle))
				_, ok := controller.Pending()
				Expect(ok).To(BeFalse())
			})

			It("does not present anything", func() {
				_, _ = controller.StartScan(context.Background(), req)
				Expect(host.handoffs).To(BeEmpty())
				Expect(service.discarded).To(BeEmpty())
			})
		})

		When("the scanning service returns no handoff", func() {
			BeforeEach(func() {
				service.noToken = true
			})

			It("returns a StartError", func() {
				_, err := controller.StartScan(context.Background(), req)
				var startErr *StartError
				Expect(errors.As(err, &startErr)).To(BeTrue())
				Expect(controller.State()).To(Equal(StateIdle))
			})
		})

		When("the host cannot present the handoff", func() {
			BeforeEach(func() {
				host.err = errBoom
			})

			It("should discard the handoff it could not present", func() {
				_, _ = controller.StartScan(context.Background(), req)
				Expect(service.discarded).To(Equal([]string{"token-1"}))
			})

			It("should accept a new scan once the host recovers", func() {
				_, _ = controller.StartScan(context.Background(), req)
				host.err = nil
				_, err := controller.StartScan(context.Background(), req)
				Expect(err).NotTo(HaveOccurred())
				Expect(controller.State()).To(Equal(StateAwaitingResult))
			})

			It("returns a StartError and returns to idle", func() {
				_, err := controller.StartScan(context.Background(), req)
				var startErr *StartError
				Expect(errors.As(err, &startErr)).To(BeTrue())
				Expect(controller.State()).To(Equal(StateIdle))
			})
		})

		When("the scan starts", func() {
			var (
				call *Call
				err  error
			)

			JustBeforeEach(func() {
				call, err = controller.StartScan(context.Background(), req)
			})

			It("should await the result", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(controller.State()).To(Equal(StateAwaitingResult))
				id, ok := controller.Pending()
				Expect(ok).To(BeTrue())
				Expect(id).To(Equal(call.ID))
			})

			It("should present the handoff the service returned", func() {
				Expect(host.handoffs).To(HaveLen(1))
				Expect(call.Handoff).To(BeIdenticalTo(host.handoffs[0]))
				Expect(call.Handoff.SessionID).To(Equal(call.ID))
			})

			It("should start the service with the normalized options", func() {
				Expect(service.calls).To(ConsistOf(scanning.Options{
					SessionID:    "session-1",
					PageLimit:    scanning.MaxPageLimit,
					Mode:         scanning.ModeFull,
					ResultFormat: scanning.ResultFormatJPEG,
				}))
			})

			It("should not resolve the call yet", func() {
				Expect(call.Done()).NotTo(BeClosed())
			})

			It("should reject a second scan and keep the first pending", func() {
				_, err2 := controller.StartScan(context.Background(), req)
				Expect(err2).To(MatchError(ErrAlreadyInProgress))
				Expect(service.calls).To(HaveLen(1))

				id, ok := controller.Pending()
				Expect(ok).To(BeTrue())
				Expect(id).To(Equal(call.ID))
				Expect(controller.State()).To(Equal(StateAwaitingResult))
			})

			It("should stay pending when the starting context ends", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, werr := call.Wait(ctx)
				Expect(werr).To(MatchError(context.Canceled))
				Expect(controller.State()).To(Equal(StateAwaitingResult))
			})

			When("the user cancels", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID, Cancelled: true})
				})

				It("should resolve with a cancellation", func() {
					result, werr := call.Wait(context.Background())
					Expect(werr).NotTo(HaveOccurred())
					Expect(result.Status).To(Equal(StatusCancelled))
					Expect(result.Images).To(BeNil())
					Expect(processor.calls).To(BeEmpty())
				})

				It("should return to idle and accept a new scan", func() {
					Expect(controller.State()).To(Equal(StateIdle))
					next, err2 := controller.StartScan(context.Background(), req)
					Expect(err2).NotTo(HaveOccurred())
					Expect(next.ID).To(Equal("session-2"))
				})

				It("should record the session", func() {
					Expect(recorder.records).To(HaveLen(1))
					Expect(recorder.records[0].Status).To(Equal("cancel"))
					Expect(recorder.records[0].HandoffToken).To(Equal("token-1"))
				})
			})

			When("the scan returns pages", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID, Data: pages("a", "b", "c")})
				})

				It("should resolve with the processed pages in order", func() {
					result, werr := call.Wait(context.Background())
					Expect(werr).NotTo(HaveOccurred())
					Expect(result.Status).To(Equal(StatusSuccess))
					Expect(result.Images).To(Equal([]string{"a#0", "b#1", "c#2"}))
				})

				It("should process with the session parameters", func() {
					Expect(processor.params).To(HaveLen(3))
					Expect(processor.params[0]).To(Equal(imaging.Params{Quality: 100, Contrast: 1, Format: imaging.FormatBase64}))
				})

				It("should be idle once resolved", func() {
					Expect(controller.State()).To(Equal(StateIdle))
					_, ok := controller.Pending()
					Expect(ok).To(BeFalse())
				})

				It("should ignore a duplicate result", func() {
					host.send(scanning.Outcome{SessionID: call.ID, Data: pages("x")})
					Expect(processor.calls).To(HaveLen(3))
					Expect(recorder.records).To(HaveLen(1))
					result, _ := call.Wait(context.Background())
					Expect(result.Images).To(HaveLen(3))
				})
			})

			When("the result belongs to another session", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: "stale", Data: pages("a")})
				})

				It("should be ignored", func() {
					Expect(call.Done()).NotTo(BeClosed())
					Expect(controller.State()).To(Equal(StateAwaitingResult))
					Expect(processor.calls).To(BeEmpty())
				})
			})

			When("the scan returns no pages", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID, Data: pages()})
				})

				It("should resolve with an empty image list", func() {
					result, _ := call.Wait(context.Background())
					Expect(result.Status).To(Equal(StatusSuccess))
					Expect(result.Images).NotTo(BeNil())
					Expect(result.Images).To(BeEmpty())
				})
			})

			When("the scan returns no data", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID})
				})

				It("should fail with ErrNoData", func() {
					result, _ := call.Wait(context.Background())
					Expect(result.Status).To(Equal(StatusFailed))
					Expect(result.Err).To(MatchError(ErrNoData))
					Expect(controller.State()).To(Equal(StateIdle))
				})
			})

			When("the scanner reports an error", func() {
				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID, Err: errBoom})
				})

				It("should fail with the scanner error", func() {
					result, _ := call.Wait(context.Background())
					Expect(result.Status).To(Equal(StatusFailed))
					Expect(result.Err).To(MatchError(errBoom))
				})

				It("should record the error", func() {
					Expect(recorder.records).To(HaveLen(1))
					Expect(recorder.records[0].Status).To(Equal("failed"))
					Expect(recorder.records[0].Error).To(Equal("boom"))
				})
			})

			When("a page cannot be processed", func() {
				BeforeEach(func() {
					processor.failAt = 1
					processor.err = imaging.ErrDecode
				})

				JustBeforeEach(func() {
					host.send(scanning.Outcome{SessionID: call.ID, Data: pages("a", "b", "c")})
				})

				It("should fail without partial results", func() {
					result, _ := call.Wait(context.Background())
					Expect(result.Status).To(Equal(StatusFailed))
					Expect(result.Images).To(BeNil())
					Expect(result.Err).To(MatchError(imaging.ErrDecode))
					Expect(result.Err.Error()).To(HavePrefix("failed to process scanned images"))
				})

				It("should stop at the failing page", func() {
					Expect(processor.calls).To(Equal([]int{0, 1}))
				})
			})
		})

		When("the response type is a file path", func() {
			BeforeEach(func() {
				req = Request{}
			})

			It("should record the written files", func() {
				call, err := controller.StartScan(context.Background(), req)
				Expect(err).NotTo(HaveOccurred())
				host.send(scanning.Outcome{SessionID: call.ID, Data: pages("a", "b")})

				Expect(recorder.records).To(HaveLen(1))
				record := recorder.records[0]
				Expect(record.ID).To(Equal(call.ID))
				Expect(record.ResponseFormat).To(Equal("imageFilePath"))
				Expect(record.Mode).To(Equal("full"))
				Expect(record.PageCount).To(Equal(2))
				Expect(record.Files).To(Equal([]string{"a#0", "b#1"}))
				Expect(record.StartedAt).To(Equal(now))
				Expect(record.FinishedAt).To(Equal(now))
			})
		})

		When("the recorder fails", func() {
			BeforeEach(func() {
				recorder.err = errBoom
			})

			It("should still resolve the session", func() {
				call, err := controller.StartScan(context.Background(), req)
				Expect(err).NotTo(HaveOccurred())
				host.send(scanning.Outcome{SessionID: call.ID, Cancelled: true})

				result, werr := call.Wait(context.Background())
				Expect(werr).NotTo(HaveOccurred())
				Expect(result.Status).To(Equal(StatusCancelled))
			})
		})
	})

	Describe("OnExternalResult", func() {
		It("should ignore results with no pending session", func() {
			Expect(func() {
				controller.OnExternalResult(scanning.Outcome{Cancelled: true})
			}).NotTo(Panic())
			Expect(controller.State()).To(Equal(StateIdle))
			Expect(recorder.records).To(BeEmpty())
		})
	})

	Describe("ScanDocument", func() {
		It("should return the success result", func() {
			done := make(chan struct{})
			var (
				result Result
				err    error
			)
			go func() {
				defer GinkgoRecover()
				defer close(done)
				result, err = controller.ScanDocument(context.Background(), req)
			}()

			Eventually(host.presented).Should(Equal(1))
			id, _ := controller.Pending()
			host.send(scanning.Outcome{SessionID: id, Data: pages("a")})

			Eventually(done).Should(BeClosed())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Images).To(Equal([]string{"a#0"}))
		})

		It("should return a failed session as an error", func() {
			done := make(chan struct{})
			var err error
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, err = controller.ScanDocument(context.Background(), req)
			}()

			Eventually(host.presented).Should(Equal(1))
			id, _ := controller.Pending()
			host.send(scanning.Outcome{SessionID: id, Err: errBoom})

			Eventually(done).Should(BeClosed())
			Expect(err).To(MatchError(errBoom))
		})

		It("should return the start error", func() {
			service.err = errBoom
			_, err := controller.ScanDocument(context.Background(), req)
			var startErr *StartError
			Expect(errors.As(err, &startErr)).To(BeTrue())
		})
	})
})

var _ = Describe("State", func() {
	It("should have readable names", func() {
		Expect(StateIdle.String()).To(Equal("idle"))
		Expect(StateStarting.String()).To(Equal("starting"))
		Expect(StateAwaitingResult.String()).To(Equal("awaiting_result"))
	})
})
