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

//go:build s390x || ppc64 || mips || mips64 || sparc64

package raftlog

// The on-disk log format is fixed little-endian regardless of host
// pointer size, but it is not byte-order-independent: this package has
// never been validated on a big-endian host. Rather than risk silently
// writing an unreadable log, refuse to build here.
//
// this_package_does_not_support_big_endian_hosts is intentionally
// undefined; referencing it turns this refusal into a compile error
// instead of a runtime surprise.
var _ = this_package_does_not_support_big_endian_hosts
