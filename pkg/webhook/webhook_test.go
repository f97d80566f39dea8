/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docfusion/docfusion/pkg/webhook"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx     context.Context
		d       *webhook.Dispatcher
		payload webhook.Payload
	)

	BeforeEach(func() {
		ctx = context.Background()
		payload = webhook.Payload{
			Event: webhook.EventCompleted,
			JobID: "job-1",
			Data:  webhook.Data{Status: "COMPLETED"},
		}
	})

	It("succeeds on the first attempt when the server returns 2xx", func() {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d = webhook.New(nil, []time.Duration{time.Millisecond, time.Millisecond}, nil)
		Expect(d.Deliver(ctx, server.URL, payload)).To(Succeed())
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})

	It("retries on a non-2xx response using the configured delays", func() {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d = webhook.New(nil, []time.Duration{time.Millisecond, time.Millisecond}, nil)
		Expect(d.Deliver(ctx, server.URL, payload)).To(Succeed())
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(3)))
	})

	It("returns a RetryableError after exhausting every attempt", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		d = webhook.New(nil, []time.Duration{time.Millisecond, time.Millisecond}, nil)
		err := d.Deliver(ctx, server.URL, payload)
		Expect(err).To(HaveOccurred())
		var retryable *webhook.RetryableError
		Expect(err).To(BeAssignableToTypeOf(retryable))
	})

	It("rejects an empty callback URL without attempting delivery", func() {
		d = webhook.New(nil, nil, nil)
		err := d.Deliver(ctx, "", payload)
		Expect(err).To(HaveOccurred())
	})
})
