/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cluster

import (
	"testing"
	"time"
)

func TestPeerHealthUnknownPeerIsHealthy(t *testing.T) {
	h := NewPeerHealth(8.0)
	if !h.IsHealthy("never-seen") {
		t.Fatal("a peer with no observed heartbeats should be reported healthy")
	}
}

func TestPeerHealthStaysHealthyOnRegularBeats(t *testing.T) {
	h := NewPeerHealth(8.0)
	for i := 0; i < 5; i++ {
		h.Beat("node-1")
		time.Sleep(5 * time.Millisecond)
	}
	if !h.IsHealthy("node-1") {
		t.Fatal("expected a peer beating regularly to be healthy")
	}
}

func TestPhiDetectorRequiresSamplesBeforeScoring(t *testing.T) {
	d := newPhiDetector()
	if d.phi() != 0 {
		t.Fatalf("expected phi 0 before enough samples, got %v", d.phi())
	}
}

func TestPhiDetectorRisesAfterLongSilence(t *testing.T) {
	d := newPhiDetector()
	for i := 0; i < 5; i++ {
		d.heartbeat()
		time.Sleep(2 * time.Millisecond)
	}
	immediate := d.phi()
	time.Sleep(200 * time.Millisecond)
	afterSilence := d.phi()
	if afterSilence <= immediate {
		t.Fatalf("expected phi to rise after a long silence: immediate=%v afterSilence=%v", immediate, afterSilence)
	}
}
